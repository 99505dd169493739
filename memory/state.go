package memory

// PageState describes the page containing a queried address at the moment of the query.
// It is never cached: the process may change its own protections at any time.
type PageState uint32

const (
	PageRead PageState = 1 << iota
	PageWrite
	PageExecute
	PageCommit
)

// PageAccess masks the protection bits of a state.
const PageAccess = PageRead | PageWrite | PageExecute

// Has reports whether every flag in want is set.
func (s PageState) Has(want PageState) bool {
	return s&want == want
}

// String renders the state like a maps perms column with a commit marker, e.g. "r-x+".
func (s PageState) String() string {
	out := []byte("---.")
	if s.Has(PageRead) {
		out[0] = 'r'
	}
	if s.Has(PageWrite) {
		out[1] = 'w'
	}
	if s.Has(PageExecute) {
		out[2] = 'x'
	}
	if s.Has(PageCommit) {
		out[3] = '+'
	}
	return string(out)
}

// Protection is a page protection request or a recorded previous protection.
// Access holds the portable read/write/execute bits, Native the OS encoding.
// A Target that sees a non-zero Native applies it verbatim, which lets a
// recorded protection be restored exactly.
type Protection struct {
	Access PageState
	Native uint32
}

// ReadWriteExecute is the protection used while patching.
var ReadWriteExecute = Protection{Access: PageAccess}
