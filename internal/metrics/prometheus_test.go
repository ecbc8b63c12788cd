package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetricsUsesPrivateRegistry(t *testing.T) {
	// Two instances must not collide on registration
	first := NewMetrics()
	second := NewMetrics()

	first.RecordUploadRequest()

	if got := testutil.ToFloat64(first.UploadRequests); got != 1 {
		t.Errorf("Expected 1 upload request, got %v", got)
	}
	if got := testutil.ToFloat64(second.UploadRequests); got != 0 {
		t.Errorf("Expected second instance untouched, got %v", got)
	}
}

func TestRecordingMetrics(t *testing.T) {
	m := NewMetrics()

	m.SetRecordingActive(true)
	if got := testutil.ToFloat64(m.RecordingActive); got != 1 {
		t.Errorf("Expected active gauge 1, got %v", got)
	}

	m.SetRecordingActive(false)
	m.RecordRecording(2.5, 4096)
	m.RecordCaptureFailure()

	if got := testutil.ToFloat64(m.RecordingActive); got != 0 {
		t.Errorf("Expected active gauge 0, got %v", got)
	}
	if got := testutil.ToFloat64(m.Recordings); got != 1 {
		t.Errorf("Expected 1 recording, got %v", got)
	}
	if got := testutil.ToFloat64(m.CaptureFailures); got != 1 {
		t.Errorf("Expected 1 capture failure, got %v", got)
	}
}

func TestLabelledCounters(t *testing.T) {
	m := NewMetrics()

	m.RecordUploadFailure("502", 0.3)
	m.RecordUploadFailure("502", 0.1)
	m.RecordDecoded("base64")
	m.RecordMessage("ai", true)
	m.RecordMessage("ai", false)

	if got := testutil.ToFloat64(m.UploadFailures.WithLabelValues("502")); got != 2 {
		t.Errorf("Expected 2 failures for 502, got %v", got)
	}
	if got := testutil.ToFloat64(m.DecodedPayloads.WithLabelValues("base64")); got != 1 {
		t.Errorf("Expected 1 base64 decode, got %v", got)
	}
	if got := testutil.ToFloat64(m.Messages.WithLabelValues("ai", "true")); got != 1 {
		t.Errorf("Expected 1 ai message with audio, got %v", got)
	}

	count, err := testutil.GatherAndCount(m.Registry(), "voicechat_messages_total")
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 message series, got %d", count)
	}
}
