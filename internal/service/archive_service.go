package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/E1venking/Kuleli-English-Centre/internal/client"
	"github.com/E1venking/Kuleli-English-Centre/internal/errors"
	"github.com/E1venking/Kuleli-English-Centre/internal/exam"
	"github.com/E1venking/Kuleli-English-Centre/internal/repository"
)

// ArchivedReport is the message that travels over the report topic when a
// session completes.
type ArchivedReport struct {
	SessionID uuid.UUID   `json:"session_id"`
	UserID    uuid.UUID   `json:"user_id"`
	Report    exam.Report `json:"report"`
}

// ArchiveService moves completed exam reports into long-term storage. The
// publisher side runs inside the session runner; the subscriber side runs as
// a background worker writing rows into Postgres. Without Pub/Sub configured
// the publish degrades to a direct database write.
type ArchiveService struct {
	pubsubClient *client.PubSubClient
	reports      repository.ReportRepository
	log          zerolog.Logger
}

// NewArchiveService creates a new archive service.
func NewArchiveService(pubsubClient *client.PubSubClient, reports repository.ReportRepository, log zerolog.Logger) *ArchiveService {
	return &ArchiveService{
		pubsubClient: pubsubClient,
		reports:      reports,
		log:          log,
	}
}

// Publish sends a completed report toward the archive.
func (s *ArchiveService) Publish(ctx context.Context, msg ArchivedReport) error {
	if s.pubsubClient == nil {
		return s.store(ctx, msg)
	}
	if err := s.pubsubClient.Publish(ctx, msg); err != nil {
		return errors.Wrap(errors.ErrStorageService, "failed to publish exam report", err)
	}
	return nil
}

// Run consumes the archive subscription until the context is cancelled. A
// failed store nacks the message for redelivery; Save is idempotent per
// session so redelivery is safe.
func (s *ArchiveService) Run(ctx context.Context) error {
	if s.pubsubClient == nil {
		return nil
	}
	return s.pubsubClient.SubscribeJSON(ctx, func(ctx context.Context, data json.RawMessage) error {
		var msg ArchivedReport
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed messages never become deliverable; drop them.
			s.log.Error().Err(err).Msg("Dropping malformed archive message")
			return nil
		}
		return s.store(ctx, msg)
	})
}

func (s *ArchiveService) store(ctx context.Context, msg ArchivedReport) error {
	if s.reports == nil {
		return nil
	}

	reportJSON, err := json.Marshal(msg.Report)
	if err != nil {
		return err
	}

	row := &repository.ExamReportRow{
		SessionID: msg.SessionID,
		UserID:    msg.UserID,
		Total:     msg.Report.Total,
		Max:       msg.Report.Max,
		Report:    reportJSON,
	}
	if err := s.reports.Save(ctx, row); err != nil {
		s.log.Error().Err(err).Str("session_id", msg.SessionID.String()).Msg("Failed to archive exam report")
		return err
	}

	s.log.Info().
		Str("session_id", msg.SessionID.String()).
		Int("total", msg.Report.Total).
		Msg("Exam report archived")
	return nil
}
