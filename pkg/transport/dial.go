package transport

import (
	"context"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"parlance/internal/cid"
)

// Dial opens a client connection to a Parlance server websocket endpoint.
// A correlation id present on ctx is propagated to the server.
func Dial(ctx context.Context, url, userAgent string, cfg Config, log *zap.Logger) (*Conn, error) {
	headers := map[string][]string{}
	if userAgent != "" {
		headers["User-Agent"] = []string{userAgent}
	}
	cid.AddHeaderFromContext(headers, ctx)

	ws, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	return NewConn(context.Background(), ws, url, cfg, log), nil
}
