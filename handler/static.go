package handler

import (
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zendrift/httpcore/internal/exchange"
)

// Static returns a Func serving files under root for any request whose
// path begins with urlPrefix. This is a single prefix-strip-and-serve
// entry, not a general static-file router with routing-tree semantics.
func Static(urlPrefix, root string) Func {
	urlPrefix = strings.TrimSuffix(urlPrefix, "/")
	return func(ex *exchange.Exchange) Result {
		target := ex.Request.Target
		if i := strings.IndexByte(target, '?'); i >= 0 {
			target = target[:i]
		}
		if !strings.HasPrefix(target, urlPrefix) {
			return NotHandled
		}
		rel := strings.TrimPrefix(target, urlPrefix)
		rel, err := url.PathUnescape(rel)
		if err != nil {
			return NotHandled
		}
		// Reject any escape above root: a cleaned path that still
		// starts with ".." after joining would read outside root.
		clean := path.Clean("/" + rel)
		full := filepath.Join(root, filepath.FromSlash(clean))
		if !strings.HasPrefix(full, filepath.Clean(root)) {
			ex.SetStatus(403)
			return Handled
		}

		f, err := os.Open(full)
		if err != nil {
			return NotHandled
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			return NotHandled
		}

		if ct := mime.TypeByExtension(filepath.Ext(full)); ct != "" {
			ex.SetHeader("Content-Type", ct)
		}
		ex.SetHeader("Content-Length", strconv.FormatInt(info.Size(), 10))
		ex.SetStatus(200)

		if ex.Request.Method == "HEAD" {
			return Handled
		}

		buf := make([]byte, 32*1024)
		for {
			n, rerr := f.Read(buf)
			if n > 0 {
				if werr := ex.Write(buf[:n]); werr != nil {
					return Handled
				}
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return Handled
			}
		}
		return Handled
	}
}
