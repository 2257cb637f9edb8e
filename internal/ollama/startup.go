package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotRunning is returned by EnsureReady when the server is unreachable.
var ErrNotRunning = errors.New("ollama is not running, start it with: ollama serve")

// EnsureReady checks that Ollama answers and that model is available,
// pulling it when missing. Status changes are written to w.
func EnsureReady(ctx context.Context, c *Client, model string, w io.Writer) error {
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("%w (%v)", ErrNotRunning, err)
	}

	ok, err := c.HasModel(ctx, model)
	if err != nil {
		return fmt.Errorf("checking model %s: %w", model, err)
	}
	if ok {
		return nil
	}

	fmt.Fprintf(w, "pulling embedding model %s\n", model)
	last := ""
	err = c.Pull(ctx, model, func(st PullStatus) {
		// Pull streams many lines per layer; print only status changes.
		if st.Status == last {
			return
		}
		last = st.Status
		if pct := st.Percent(); pct >= 0 {
			fmt.Fprintf(w, "  %s (%.0f%%)\n", st.Status, pct)
			return
		}
		fmt.Fprintf(w, "  %s\n", st.Status)
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", model, err)
	}
	fmt.Fprintf(w, "embedding model %s ready\n", model)
	return nil
}
