package transport

import (
	"context"

	"github.com/roach88/hlcsync/internal/syncproto"
)

// Local delivers rounds to an in-process handler. Both directions still go
// through the JSON wire form, so nothing is shared between the replicas.
type Local struct {
	Handler syncproto.Handler
}

// Exchange implements syncproto.Transport.
func (l Local) Exchange(ctx context.Context, req syncproto.Request) (syncproto.Response, error) {
	data, err := syncproto.Encode(req)
	if err != nil {
		return syncproto.Response{}, err
	}
	decoded, err := syncproto.DecodeRequest(data)
	if err != nil {
		return syncproto.Response{}, err
	}

	resp, err := l.Handler.HandleSync(ctx, decoded)
	if err != nil {
		return syncproto.Response{}, err
	}

	data, err = syncproto.Encode(resp)
	if err != nil {
		return syncproto.Response{}, err
	}
	return syncproto.DecodeResponse(data)
}
