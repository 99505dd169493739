package memory

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"memcore/pattern"
)

// ScanFirst returns the lowest address in [base, base+size) matching text.
func (a *Accessor) ScanFirst(base Address, size Size, text string) (Address, error) {
	pat, err := pattern.Parse(text)
	if err != nil {
		return 0, err
	}
	return a.ScanPatternFirst(base, size, pat)
}

// ScanAll returns every address in [base, base+size) matching text, ascending.
func (a *Accessor) ScanAll(base Address, size Size, text string) ([]Address, error) {
	pat, err := pattern.Parse(text)
	if err != nil {
		return nil, err
	}
	return a.ScanPatternAll(base, size, pat)
}

// ScanOne is ScanAll for call sites that require exactly one match.
func (a *Accessor) ScanOne(base Address, size Size, text string) (Address, error) {
	found, err := a.ScanAll(base, size, text)
	if err != nil {
		return 0, err
	}
	if len(found) > 1 {
		return 0, fmt.Errorf("%w: %d matches for %s", ErrMultipleMatchesFound, len(found), text)
	}
	return found[0], nil
}

// AutoScanFirst is ScanFirst over the primary module.
func (a *Accessor) AutoScanFirst(text string) (Address, error) {
	module, err := a.PrimaryModule()
	if err != nil {
		return 0, err
	}
	return a.ScanFirst(module.Base, module.Size, text)
}

// AutoScanAll is ScanAll over the primary module.
func (a *Accessor) AutoScanAll(text string) ([]Address, error) {
	module, err := a.PrimaryModule()
	if err != nil {
		return nil, err
	}
	return a.ScanAll(module.Base, module.Size, text)
}

// ScanRelativeStatic resolves a RIP relative reference to a static variable.
// The signature locates an instruction; the int32 displacement at match+offset
// is added to the address of the next instruction byte after it.
func (a *Accessor) ScanRelativeStatic(text string, offset int64) (Address, error) {
	match, err := a.AutoScanFirst(text)
	if err != nil {
		return 0, err
	}
	site := match.Offset(offset)

	rel, err := a.ReadInt32(site)
	if err != nil {
		return 0, err
	}
	return site.Offset(4 + int64(rel)), nil
}

// ScanPatternFirst is ScanFirst with a parsed pattern.
func (a *Accessor) ScanPatternFirst(base Address, size Size, pat pattern.Pattern) (Address, error) {
	spans, err := a.readableSpans(base, size, pat)
	if err != nil {
		return 0, err
	}

	for _, span := range spans {
		var (
			offset int
			found  bool
		)
		err := a.target.Access(span.Base, span.Size, func(mem []byte) {
			offset, found = pat.First(mem)
		})
		if err != nil {
			return 0, fmt.Errorf("scan %s: %w", span, err)
		}
		if found {
			return span.Base + Address(offset), nil
		}
	}

	return 0, &NotFoundError{Pattern: pat.String()}
}

// ScanPatternAll is ScanAll with a parsed pattern.
func (a *Accessor) ScanPatternAll(base Address, size Size, pat pattern.Pattern) ([]Address, error) {
	spans, err := a.readableSpans(base, size, pat)
	if err != nil {
		return nil, err
	}

	var results []Address
	if a.workers > 1 && len(spans) > 1 {
		results, err = a.scanParallel(spans, pat)
	} else {
		results, err = a.scanSerial(spans, pat)
	}
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return nil, &NotFoundError{Pattern: pat.String()}
	}
	a.log.Debugln("scan complete, found", len(results), "matches for", pat)
	return results, nil
}

func (a *Accessor) scanSerial(spans []Region, pat pattern.Pattern) ([]Address, error) {
	var results []Address
	for _, span := range spans {
		found, err := a.scanSpan(span, pat)
		if err != nil {
			return nil, err
		}
		results = append(results, found...)
	}
	return results, nil
}

func (a *Accessor) scanParallel(spans []Region, pat pattern.Pattern) ([]Address, error) {
	maxdop := a.workers
	if n := runtime.NumCPU(); maxdop > n {
		maxdop = n
	}

	sem := make(chan struct{}, maxdop)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  []Address
		firstErr error
	)

	for _, span := range spans {
		wg.Add(1)
		sem <- struct{}{}
		go func(span Region) {
			defer wg.Done()
			defer func() { <-sem }()

			found, err := a.scanSpan(span, pat)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results = append(results, found...)
		}(span)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	return results, nil
}

func (a *Accessor) scanSpan(span Region, pat pattern.Pattern) ([]Address, error) {
	var found []Address
	err := a.target.Access(span.Base, span.Size, func(mem []byte) {
		for offset := range pat.Matches(mem) {
			found = append(found, span.Base+Address(offset))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", span, err)
	}
	return found, nil
}

// readableSpans clips the readable regions overlapping [base, base+size) to
// that range and merges neighbours, so a match may straddle a region boundary.
// Spans shorter than the pattern are dropped.
func (a *Accessor) readableSpans(base Address, size Size, pat pattern.Pattern) ([]Region, error) {
	if size == 0 || size < Size(pat.Len()) {
		return nil, &SizeError{Size: size}
	}
	if IsReserved(base) {
		return nil, pageError(ErrPagePermNoRead, base)
	}

	regions, err := a.target.Regions(base, size)
	if err != nil {
		return nil, &QueryError{Op: "region query", Address: base, Err: err}
	}

	end := base + Address(size)
	var spans []Region
	for _, r := range regions {
		if !r.State.Has(PageRead) {
			continue
		}
		lo, hi := max(r.Base, base), min(r.End(), end)
		if lo >= hi {
			continue
		}
		if n := len(spans); n > 0 && spans[n-1].End() == lo {
			spans[n-1].Size += Size(hi - lo)
			continue
		}
		spans = append(spans, Region{Base: lo, Size: Size(hi - lo), State: PageRead})
	}

	out := spans[:0]
	for _, s := range spans {
		if s.Size >= Size(pat.Len()) {
			out = append(out, s)
		}
	}
	return out, nil
}
