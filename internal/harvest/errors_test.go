package harvest

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	base := eris.New("boom")
	tests := []struct {
		name      string
		err       error
		auth      bool
		transport bool
		protocol  bool
		dataShape bool
		reject    bool
	}{
		{name: "auth", err: NewAuthError(base), auth: true},
		{name: "transport", err: NewTransportError(base), transport: true},
		{name: "protocol", err: NewProtocolError(base, "failure", 200, nil), protocol: true},
		{name: "data shape", err: NewDataShapeError(base), dataShape: true},
		{name: "reject", err: NewRejectError(base), reject: true},
		{name: "plain", err: base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.auth, IsAuth(tt.err))
			assert.Equal(t, tt.transport, IsTransport(tt.err))
			assert.Equal(t, tt.protocol, IsProtocol(tt.err))
			assert.Equal(t, tt.dataShape, IsDataShape(tt.err))
			assert.Equal(t, tt.reject, IsReject(tt.err))
		})
	}
}

func TestClassificationSurvivesWrapping(t *testing.T) {
	wrapped := eris.Wrap(NewAuthError(eris.New("token refused")), "collector: fetch page")
	assert.True(t, IsAuth(wrapped))
	assert.False(t, IsTransport(wrapped))

	deep := eris.Wrap(eris.Wrap(NewRejectError(eris.New("bad coords")), "normalize"), "export")
	assert.True(t, IsReject(deep))
}

func TestResponseBody(t *testing.T) {
	pe := NewProtocolError(eris.New("status failure"), "failure", 200, []byte(`{"status":"failure"}`))
	wrapped := eris.Wrap(pe, "source: branch query")
	assert.Equal(t, []byte(`{"status":"failure"}`), ResponseBody(wrapped))

	assert.Nil(t, ResponseBody(eris.New("no payload here")))
}
