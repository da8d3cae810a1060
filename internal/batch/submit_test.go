package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/clip-engine/internal/pipeline"
	"github.com/snarg/clip-engine/internal/source"
)

func TestRequestURLs(t *testing.T) {
	r := Request{URL: " https://youtu.be/vid00000001 ", Sources: []string{"", "vid00000002", "  "}}
	assert.Equal(t, []string{"https://youtu.be/vid00000001", "vid00000002"}, r.URLs())
	assert.Empty(t, Request{}.URLs())
}

func TestParseRequest(t *testing.T) {
	req, err := ParseRequest([]byte(`{"name":"talks","sources":["vid00000001"],"url":"vid00000002"}`))
	require.NoError(t, err)
	assert.Equal(t, "talks", req.Name)
	assert.Equal(t, []string{"vid00000002", "vid00000001"}, req.URLs())

	req, err = ParseRequest([]byte("\nhttps://youtu.be/vid00000001\n\n  vid00000002  \n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://youtu.be/vid00000001", "vid00000002"}, req.URLs())

	_, err = ParseRequest([]byte(`{"name":`))
	assert.Error(t, err)
}

func TestSubmitRequestNamedRun(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Lister = &fakeLister{entries: []source.Entry{{ID: "vid00000003"}, {ID: "vid00000004"}}}
	})
	h.start(t)

	res, err := h.o.SubmitRequest(context.Background(), Request{
		Name: "lecture-series",
		Sources: []string{
			"https://www.youtube.com/watch?v=vid00000001",
			"definitely not a url",
			"https://www.youtube.com/playlist?list=PL1234567890",
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)
	assert.Len(t, res.JobIDs, 3)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "definitely not a url", res.Errors[0].Source)
	assert.Equal(t, string(pipeline.KindMalformedURL), res.Errors[0].Kind)

	rep := wait(t, h.o, res.RunID)
	assert.Equal(t, "lecture-series", rep.Run.Name)
	assert.Equal(t, 3, rep.Counts[StateDone])
}

func TestSubmitRequestDefaultRun(t *testing.T) {
	h := newHarness(t, nil)

	a, err := h.o.SubmitRequest(context.Background(), Request{URL: "vid00000001"})
	require.NoError(t, err)
	b, err := h.o.SubmitRequest(context.Background(), Request{URL: "vid00000002"})
	require.NoError(t, err)
	assert.Equal(t, a.RunID, b.RunID, "unnamed requests share the default run")
}

func TestSubmitRequestAborts(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.QueueSize = 1 })

	_, err := h.o.SubmitRequest(context.Background(), Request{})
	assert.Equal(t, pipeline.KindMalformedURL, pipeline.KindOf(err))

	res, err := h.o.SubmitRequest(context.Background(), Request{Sources: []string{"vid00000001", "vid00000002", "vid00000003"}})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Len(t, res.JobIDs, 1)
	assert.Equal(t, []string{"vid00000002", "vid00000003"}, res.Pending)

	_, err = h.o.SubmitRequest(context.Background(), Request{RunID: "nope", URL: "vid00000001"})
	assert.ErrorIs(t, err, ErrUnknownRun)
}
