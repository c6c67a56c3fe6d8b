// Package progress defines the logging/progress sink the core invokes
// synchronously while talking to the probe, grounded on the original
// project's lib/dbg.py (Dbg.debug/msg/bargraph_start/bargraph_update/
// bargraph_done).
package progress

// Sink is the ambient dependency every core component is handed. It must
// never block on user input and must be safe to call from the single
// goroutine driving a probe session (the core has no internal concurrency,
// per spec §5).
type Sink interface {
	Info(msg string)
	Warning(msg string)
	Error(msg string)

	BargraphStart(label string, min, max int)
	BargraphUpdate(value int)
	BargraphDone()
}

// Noop discards everything. Useful in tests and library embeddings that
// don't want console output.
type Noop struct{}

func (Noop) Info(string)                    {}
func (Noop) Warning(string)                 {}
func (Noop) Error(string)                   {}
func (Noop) BargraphStart(string, int, int) {}
func (Noop) BargraphUpdate(int)             {}
func (Noop) BargraphDone()                  {}
