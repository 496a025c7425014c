package control

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discoveryd/engine/internal/clock"
	"github.com/discoveryd/engine/internal/model"
)

type fakeController struct {
	name       string
	connectErr error
	approveErr error
	token      []byte
	closed     bool
}

func (f *fakeController) Name() string                     { return f.name }
func (f *fakeController) Connect(context.Context) error    { return f.connectErr }
func (f *fakeController) Close() error                     { f.closed = true; return nil }
func (f *fakeController) AwaitApproval(ctx context.Context) ([]byte, error) {
	if f.approveErr != nil {
		return nil, f.approveErr
	}
	if f.token == nil {
		<-ctx.Done() // simulate a user who never approves
		return nil, ctx.Err()
	}
	return f.token, nil
}

type fakeTokenStore struct {
	saved []model.DeviceControlToken
}

func (f *fakeTokenStore) SaveControlToken(t model.DeviceControlToken) error {
	f.saved = append(f.saved, t)
	return nil
}

func TestPair_Success(t *testing.T) {
	tokens := &fakeTokenStore{}
	p := NewPairer(tokens, clock.NewMockClock(time.Unix(1700000000, 0)), nil)
	ctrl := &fakeController{name: "samsung", token: []byte("tok-123")}

	result := p.Pair(context.Background(), 7, ctrl)
	require.True(t, result.Success)
	assert.True(t, ctrl.closed)

	require.Len(t, tokens.saved, 1)
	saved := tokens.saved[0]
	assert.Equal(t, int64(7), saved.EndpointID)
	assert.Equal(t, "samsung", saved.Controller)
	assert.Equal(t, model.DeviceControlPaired, saved.State)
	assert.Equal(t, []byte("tok-123"), saved.Token)
}

func TestPair_ConnectFailure(t *testing.T) {
	tokens := &fakeTokenStore{}
	p := NewPairer(tokens, nil, nil)
	ctrl := &fakeController{name: "lg", connectErr: errors.New("refused")}

	result := p.Pair(context.Background(), 7, ctrl)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "connect failed")
	assert.Empty(t, tokens.saved, "no state persisted on failure")
}

func TestPair_ApprovalRejected(t *testing.T) {
	tokens := &fakeTokenStore{}
	p := NewPairer(tokens, nil, nil)
	ctrl := &fakeController{name: "roku", approveErr: errors.New("user declined")}

	result := p.Pair(context.Background(), 7, ctrl)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "pairing failed")
	assert.Empty(t, tokens.saved)
}

func TestPair_CancelledContext(t *testing.T) {
	tokens := &fakeTokenStore{}
	p := NewPairer(tokens, nil, nil)
	ctrl := &fakeController{name: "samsung"} // never approves

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := p.Pair(ctx, 7, ctrl)
	assert.False(t, result.Success)
	assert.Empty(t, tokens.saved)
}
