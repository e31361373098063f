package queue

import "testing"

func TestDecodeJob(t *testing.T) {
	job, err := decodeJob(`{"job_id":"abc","report":{"ReporterID":1,"TargetUserID":2,"QuestionID":7},"enqueued_at":"2025-01-01T00:00:00Z"}`)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if job.ID != "abc" || job.Report.ReporterID != 1 || job.Report.TargetUserID != 2 {
		t.Fatalf("неожиданная задача: %+v", job)
	}
	if job.Report.QuestionID == nil || *job.Report.QuestionID != 7 {
		t.Fatalf("ожидали question_id=7")
	}
}

func TestDecodeJobInvalid(t *testing.T) {
	if _, err := decodeJob("{"); err == nil {
		t.Fatal("ожидали ошибку для битого JSON")
	}
}
