package intake_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/kafka"
	"github.com/shubhanshu-sudo/Scrapper/internal/orchestrator"
	"github.com/shubhanshu-sudo/Scrapper/services/leadscout/intake"
)

type fakeStarter struct {
	reqs []orchestrator.Request
	err  error
}

func (f *fakeStarter) Start(_ context.Context, req orchestrator.Request) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return "t1", nil
}

func newIntake(s *fakeStarter) *intake.Intake {
	return intake.New(s, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandle_StartsTask(t *testing.T) {
	s := &fakeStarter{}
	err := newIntake(s).Handle(context.Background(), kafka.Message{
		Value: []byte(`{"keywords":["florist"],"locations":["York"],"parallel_count":3}`),
	})
	require.NoError(t, err)
	require.Len(t, s.reqs, 1)
	assert.Equal(t, orchestrator.Request{
		Keywords: []string{"florist"}, Locations: []string{"York"}, Parallelism: 3, Source: "kafka",
	}, s.reqs[0])
}

func TestHandle_MalformedIsCommitted(t *testing.T) {
	s := &fakeStarter{}
	err := newIntake(s).Handle(context.Background(), kafka.Message{Value: []byte(`{oops`)})
	assert.NoError(t, err)
	assert.Empty(t, s.reqs)
}

func TestHandle_InvalidRequestIsCommitted(t *testing.T) {
	s := &fakeStarter{err: &domain.InvalidRequestError{Reason: "parallel_count must not be negative"}}
	err := newIntake(s).Handle(context.Background(), kafka.Message{Value: []byte(`{"parallel_count":-2}`)})
	assert.NoError(t, err)
}

func TestHandle_RegistryFailureIsReturnedForRedelivery(t *testing.T) {
	s := &fakeStarter{err: errors.New("redis down")}
	err := newIntake(s).Handle(context.Background(), kafka.Message{Value: []byte(`{"keywords":["a"]}`)})
	assert.EqualError(t, err, "redis down", "a nil return would commit the record")
}
