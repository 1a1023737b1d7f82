package service

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/waveshift/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func separationDone(taskID string) []byte {
	return []byte(`{"taskId":"` + taskID + `","status":"completed","stage":"separation","jobId":"job-1",
		"result":{"audioPath":"stems/vocals.wav","videoPath":"stems/video.mp4"}}`)
}

func TestCallbackService_Authenticate(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")

	t.Run("wrong secret never parses the body", func(t *testing.T) {
		_, err := f.callbacks.Handle(context.Background(), "nope", []byte("{not json"))

		assert.True(t, errors.Is(err, domain.ErrUnauthorized))
	})

	t.Run("empty secret is refused", func(t *testing.T) {
		_, err := f.callbacks.Handle(context.Background(), "", separationDone(seeded.ID))

		assert.True(t, errors.Is(err, domain.ErrUnauthorized))
		stored, _ := f.store.Get(context.Background(), seeded.ID)
		assert.Equal(t, domain.TaskStatusSeparating, stored.Status)
	})

	t.Run("unconfigured secret refuses everything", func(t *testing.T) {
		svc := NewCallbackService(f.tasks, f.store, nil, "", nil)

		assert.Error(t, svc.Authenticate(""))
		assert.Error(t, svc.Authenticate("anything"))
	})
}

func TestCallbackService_SeparationChainsTranscription(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")
	f.stages.ack = domain.StageAck{JobHandle: "asr-7", Status: "running"}

	out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, separationDone(seeded.ID))

	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.TaskStatusTranscribing, out.Task.Status)
	assert.Equal(t, 55, out.Task.Progress)
	assert.Equal(t, "stems/vocals.wav", out.Task.Outputs.AudioPath)
	assert.Equal(t, "stems/video.mp4", out.Task.Outputs.VideoPath)
	assert.Equal(t, "asr-7", out.Task.JobHandle)

	sent := f.stages.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.StageTranscription, sent[0].Stage)
	assert.Equal(t, "stems/vocals.wav", sent[0].AudioPath)
}

func TestCallbackService_ChainFailureKeepsTransition(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")
	f.stages.err = domain.DispatchError(500, "transcription service rejected the request", nil)

	out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, separationDone(seeded.ID))

	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusTranscribing, out.Task.Status)
	assert.Empty(t, out.Task.JobHandle)

	// The client can dispatch the pending stage itself.
	f.stages.err = nil
	task, err := f.dispatcher.Dispatch(context.Background(), testOwner, seeded.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", task.JobHandle)
}

func TestCallbackService_Duplicates(t *testing.T) {
	t.Run("replayed completion is a no-op", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")
		_, err := f.callbacks.Handle(context.Background(), testCallbackSecret, separationDone(seeded.ID))
		require.NoError(t, err)
		after, _ := f.store.Get(context.Background(), seeded.ID)

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, separationDone(seeded.ID))

		require.NoError(t, err)
		assert.False(t, out.Applied)
		again, _ := f.store.Get(context.Background(), seeded.ID)
		assert.Equal(t, after, again)
		assert.Len(t, f.stages.sent(), 1)
	})

	t.Run("terminal task ignores callbacks", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusFailed, false, "")

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
			[]byte(`{"taskId":"`+seeded.ID+`","status":"failed","error":"late"}`))

		require.NoError(t, err)
		assert.False(t, out.Applied)
	})

	t.Run("stale job id is ignored", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusSeparating, false, "job-2")

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, separationDone(seeded.ID))

		require.NoError(t, err)
		assert.False(t, out.Applied)
		stored, _ := f.store.Get(context.Background(), seeded.ID)
		assert.Equal(t, domain.TaskStatusSeparating, stored.Status)
	})

	t.Run("fallback handle accepts any job id", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusSeparating, false, "")
		f.store.put(func() *domain.Task { c := seeded.Clone(); c.JobHandle = c.ID; return c }())

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, separationDone(seeded.ID))

		require.NoError(t, err)
		assert.True(t, out.Applied)
	})
}

func TestCallbackService_StageNotReached(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")

	_, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
		[]byte(`{"taskId":"`+seeded.ID+`","status":"completed","stage":"transcription","result":{"segments":[]}}`))

	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestCallbackService_NoStageOutsideAStage(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusUploaded, false, "")

	_, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
		[]byte(`{"taskId":"`+seeded.ID+`","status":"failed","error":"x"}`))

	assert.True(t, errors.Is(err, domain.ErrConflict))
}

func TestCallbackService_Failure(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusTranscribing, false, "asr-1")

	out, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
		[]byte(`{"taskId":"`+seeded.ID+`","status":"failed","jobId":"asr-1","error":{"message":"model crashed","detail":"oom"}}`))

	require.NoError(t, err)
	assert.True(t, out.Applied)
	assert.Equal(t, domain.TaskStatusFailed, out.Task.Status)
	assert.Equal(t, 55, out.Task.Progress)
	assert.Equal(t, &domain.TaskError{Message: "model crashed", Detail: "oom"}, out.Task.Error)
	assert.Empty(t, out.Task.JobHandle)
	assert.NotNil(t, out.Task.CompletedAt)
	assert.Empty(t, f.stages.sent())
}

func TestCallbackService_Transcription(t *testing.T) {
	body := func(id string) []byte {
		return []byte(`{"taskId":"` + id + `","status":"completed","result":{"segments":[
			{"sequence":1,"start":0,"end":1.5,"original":"hola","translation":"salut"},
			{"sequence":2,"start":1.5,"end":3,"speaker":"B","original":"adios"}]}}`)
	}

	t.Run("without synthesis completes the task", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusTranscribing, false, "asr-1")

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, body(seeded.ID))

		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusCompleted, out.Task.Status)
		assert.Equal(t, 100, out.Task.Progress)
		assert.Equal(t, seeded.ID, out.Task.Outputs.TranscriptID)
		assert.Equal(t, 2, out.Task.Outputs.SegmentCount)
		assert.Empty(t, f.stages.sent())

		tr, err := f.store.GetTranscript(context.Background(), seeded.ID)
		require.NoError(t, err)
		assert.Len(t, tr.Segments, 2)
		assert.Equal(t, "B", tr.Segments[1].Speaker)
	})

	t.Run("with synthesis chains the synthesis stage", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusTranscribing, true, "asr-1")

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, body(seeded.ID))

		require.NoError(t, err)
		assert.Equal(t, domain.TaskStatusSynthesizing, out.Task.Status)
		assert.Equal(t, 85, out.Task.Progress)
		require.Len(t, f.stages.sent(), 1)
		assert.Equal(t, domain.StageSynthesis, f.stages.sent()[0].Stage)
		assert.Equal(t, seeded.ID, f.stages.sent()[0].TranscriptID)
	})

	t.Run("invalid segments are rejected", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusTranscribing, false, "asr-1")

		_, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
			[]byte(`{"taskId":"`+seeded.ID+`","status":"completed","result":{"segments":[{"sequence":1,"start":2,"end":1}]}}`))

		assert.True(t, errors.Is(err, domain.ErrValidation))
		stored, _ := f.store.Get(context.Background(), seeded.ID)
		assert.Equal(t, domain.TaskStatusTranscribing, stored.Status)
	})
}

func TestCallbackService_SeparationMissingOutputs(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")

	_, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
		[]byte(`{"taskId":"`+seeded.ID+`","status":"completed","result":{"audioPath":"a.wav"}}`))

	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestCallbackService_Synthesis(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSynthesizing, true, "tts-1")

	out, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
		[]byte(`{"taskId":"`+seeded.ID+`","status":"completed","stage":"synthesis","result":{"synthesizedPath":"out/dub.mp4"}}`))

	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, out.Task.Status)
	assert.Equal(t, "out/dub.mp4", out.Task.Outputs.SynthesizedPath)
	assert.Equal(t, domain.CallbackStatusCompleted, out.Task.PipelineStatus)
}

func TestCallbackService_UnknownTask(t *testing.T) {
	f := newFixture()

	_, err := f.callbacks.Handle(context.Background(), testCallbackSecret, separationDone("missing"))

	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func stagelessSeparationDone(taskID string) []byte {
	return []byte(`{"taskId":"` + taskID + `","status":"completed",
		"result":{"audioPath":"stems/vocals.wav","videoPath":"stems/video.mp4"}}`)
}

func TestCallbackService_StagelessRetryAfterChain(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")
	f.stages.ack = domain.StageAck{JobHandle: "asr-7", Status: "queued"}

	first, err := f.callbacks.Handle(context.Background(), testCallbackSecret, stagelessSeparationDone(seeded.ID))
	require.NoError(t, err)
	require.True(t, first.Applied)
	require.Equal(t, domain.TaskStatusTranscribing, first.Task.Status)
	after, _ := f.store.Get(context.Background(), seeded.ID)

	retry, err := f.callbacks.Handle(context.Background(), testCallbackSecret, stagelessSeparationDone(seeded.ID))

	require.NoError(t, err)
	assert.False(t, retry.Applied)
	again, _ := f.store.Get(context.Background(), seeded.ID)
	assert.Equal(t, after, again)
	assert.Len(t, f.stages.sent(), 1)
}

func TestCallbackService_StagelessFailure(t *testing.T) {
	failure := func(taskID, jobID string) []byte {
		return []byte(`{"taskId":"` + taskID + `","status":"failed","jobId":"` + jobID + `","error":"ffmpeg crashed"}`)
	}

	t.Run("applies to the first stage without a job id", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
			[]byte(`{"taskId":"`+seeded.ID+`","status":"failed","error":"ffmpeg crashed"}`))

		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, domain.TaskStatusFailed, out.Task.Status)
	})

	t.Run("late failure does not fail a chained stage", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")
		f.stages.ack = domain.StageAck{JobHandle: "asr-7"}
		_, err := f.callbacks.Handle(context.Background(), testCallbackSecret, stagelessSeparationDone(seeded.ID))
		require.NoError(t, err)

		_, err = f.callbacks.Handle(context.Background(), testCallbackSecret,
			[]byte(`{"taskId":"`+seeded.ID+`","status":"failed","error":"ffmpeg crashed"}`))

		assert.True(t, errors.Is(err, domain.ErrConflict))
		stored, _ := f.store.Get(context.Background(), seeded.ID)
		assert.Equal(t, domain.TaskStatusTranscribing, stored.Status)
		assert.Nil(t, stored.Error)
	})

	t.Run("failure from a finished job is ignored", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusTranscribing, false, "asr-7")

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, failure(seeded.ID, "job-1"))

		require.NoError(t, err)
		assert.False(t, out.Applied)
		stored, _ := f.store.Get(context.Background(), seeded.ID)
		assert.Equal(t, domain.TaskStatusTranscribing, stored.Status)
	})

	t.Run("live job id fails the chained stage", func(t *testing.T) {
		f := newFixture()
		seeded := f.seed(domain.TaskStatusTranscribing, false, "asr-7")

		out, err := f.callbacks.Handle(context.Background(), testCallbackSecret, failure(seeded.ID, "asr-7"))

		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, domain.TaskStatusFailed, out.Task.Status)
		assert.Equal(t, "ffmpeg crashed", out.Task.Error.Message)
	})
}

func TestCallbackService_StagelessResultWithoutOutputs(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")

	_, err := f.callbacks.Handle(context.Background(), testCallbackSecret,
		[]byte(`{"taskId":"`+seeded.ID+`","status":"completed","result":{}}`))

	assert.True(t, errors.Is(err, domain.ErrValidation))
}

func TestCallbackService_ProcessAfterAuthentication(t *testing.T) {
	f := newFixture()
	seeded := f.seed(domain.TaskStatusSeparating, false, "job-1")
	require.NoError(t, f.callbacks.Authenticate(testCallbackSecret))

	out, err := f.callbacks.Process(context.Background(), separationDone(seeded.ID))

	require.NoError(t, err)
	assert.True(t, out.Applied)
}
