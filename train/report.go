package train

import "fmt"

// Reporter receives progress lines during training.
type Reporter interface {
	Printf(format string, args ...any)
}

// StdoutReporter writes progress to standard output.
type StdoutReporter struct{}

func (StdoutReporter) Printf(format string, args ...any) {
	fmt.Printf(format, args...)
}
