package memory

import (
	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Logger is the subset of *logger.Logger used by the engine.
type Logger interface {
	Infoln(v ...interface{})
	Debugln(v ...interface{})
	Warn(v ...interface{})
}

// NewLogger returns a gologger logger with a coloured component prefix.
func NewLogger(name string) Logger {
	return logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, name))
}
