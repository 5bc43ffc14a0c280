package pcie

import (
	"bufio"
	"context"
	"fmt"
	"os"
)

// maxFileBytes caps how much of a File panel's content is
// materialized into the cache, so a multi-gigabyte log or data file cannot
// blow up the LLM context it feeds.
const maxFileBytes = 5 << 20 // 5 MiB

// fileRefresher implements Refresher for KindFile: a raw read of a single
// path on disk, bypassing git entirely since the editor's view of the file
// may be ahead of both the index and HEAD.
type fileRefresher struct{}

func (fileRefresher) Refresh(_ context.Context, req CacheRequest) CacheUpdate {
	cfg := req.Config.File
	if cfg == nil {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID, NewContent: "(missing file config)"}
	}

	content, err := readCapped(cfg.Path, maxFileBytes)
	if err != nil {
		healthCounters.refreshErrors.Add(1)
		content = fmt.Sprintf("(error reading %s: %v)", cfg.Path, err)
	}

	hash := HashContent(content)
	if req.HasContent && hash == req.CurrentHash {
		return CacheUpdate{Tag: UpdateUnchanged, PanelID: req.PanelID}
	}
	return CacheUpdate{
		Tag:        UpdateContent,
		PanelID:    req.PanelID,
		NewContent: content,
		NewHash:    hash,
		TokenCount: estimateTokens(content),
	}
}

// terminalRefresher implements Refresher for KindTerminalPane: the tail of
// a terminal pane's scrollback, identified by an opaque handle the
// out-of-scope terminal-multiplexer collaborator assigns. PCIE itself does
// not own terminal I/O; readPaneTail is the narrow seam a host wires in.
type terminalRefresher struct {
	readPaneTail func(handle string, tailLines int) (string, error)
}

func (t terminalRefresher) Refresh(_ context.Context, req CacheRequest) CacheUpdate {
	cfg := req.Config.TerminalPane
	if cfg == nil || t.readPaneTail == nil {
		return CacheUpdate{Tag: UpdateContent, PanelID: req.PanelID, NewContent: "(terminal pane unavailable)"}
	}

	content, err := t.readPaneTail(cfg.PaneHandle, cfg.TailLines)
	if err != nil {
		healthCounters.refreshErrors.Add(1)
		content = fmt.Sprintf("(error reading pane %s: %v)", cfg.PaneHandle, err)
	}

	hash := HashContent(content)
	if req.HasContent && hash == req.CurrentHash {
		return CacheUpdate{Tag: UpdateUnchanged, PanelID: req.PanelID}
	}
	return CacheUpdate{
		Tag:        UpdateContent,
		PanelID:    req.PanelID,
		NewContent: content,
		NewHash:    hash,
		TokenCount: estimateTokens(content),
	}
}

// readCapped reads at most limit bytes of path, reporting whether the file
// was truncated via a trailing marker rather than silently dropping tail
// content.
func readCapped(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	r := bufio.NewReader(f)
	buf := make([]byte, minInt64(info.Size(), limit))
	n, err := readFull(r, buf)
	if err != nil {
		return "", err
	}
	out := string(buf[:n])
	if info.Size() > limit {
		out += fmt.Sprintf("\n... (truncated, %d of %d bytes shown)\n", limit, info.Size())
	}
	return out, nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			if total > 0 {
				return total, nil
			}
			return total, err
		}
	}
	return total, nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// estimateTokens is a cheap, conservative token-count estimate (roughly 4
// bytes/token for English source text) used to populate Panel.TokenCount
// for the host's context-budget accounting. PCIE does not depend on a real
// tokenizer: the host's LLM client owns exact counts.
func estimateTokens(content string) int {
	const bytesPerToken = 4
	n := len(content) / bytesPerToken
	if n == 0 && len(content) > 0 {
		n = 1
	}
	return n
}
