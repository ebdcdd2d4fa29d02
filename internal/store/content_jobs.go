// ABOUTME: Content Job persistence for the render variant of the execution flow
// ABOUTME: Jobs echo the raw instruction block and its parsed structure for traceability

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const contentJobColumns = `id, conversation_id, organization_id, requested_by, agent, mode, status,
	instruction_text, parsed_json, ai_action_id, used_fn, result_json, error, created_at, updated_at`

// CreateContentJob inserts a content job. Generates ID and timestamps if not set.
func (s *SQLStore) CreateContentJob(ctx context.Context, j *ContentJob) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.Status == "" {
		j.Status = JobPending
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	if j.UpdatedAt.IsZero() {
		j.UpdatedAt = j.CreatedAt
	}

	parsed, result, err := marshalJobMaps(j)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO content_jobs (` + contentJobColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.exec(ctx, query,
		j.ID,
		nullString(j.ConversationID),
		nullString(j.OrganizationID),
		nullString(j.RequestedBy),
		nullString(j.Agent),
		j.Mode,
		string(j.Status),
		j.InstructionText,
		parsed,
		nullString(j.AIActionID),
		nullString(j.UsedFn),
		result,
		nullString(j.Error),
		formatTime(j.CreatedAt),
		formatTime(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting content job: %w", err)
	}

	s.logger.Debug("created content job", "id", j.ID, "mode", j.Mode)
	return nil
}

// UpdateContentJob writes the mutable fields of a job.
// Returns ErrNotFound if the job doesn't exist.
func (s *SQLStore) UpdateContentJob(ctx context.Context, j *ContentJob) error {
	j.UpdatedAt = time.Now().UTC()
	parsed, result, err := marshalJobMaps(j)
	if err != nil {
		return err
	}

	res, err := s.exec(ctx, `
		UPDATE content_jobs
		SET status = ?, parsed_json = ?, ai_action_id = ?, used_fn = ?, result_json = ?, error = ?, updated_at = ?
		WHERE id = ?
	`,
		string(j.Status),
		parsed,
		nullString(j.AIActionID),
		nullString(j.UsedFn),
		result,
		nullString(j.Error),
		formatTime(j.UpdatedAt),
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("updating content job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetContentJob retrieves a content job by ID.
// Returns ErrNotFound if the job doesn't exist.
func (s *SQLStore) GetContentJob(ctx context.Context, id string) (*ContentJob, error) {
	row := s.queryRow(ctx, `SELECT `+contentJobColumns+` FROM content_jobs WHERE id = ?`, id)
	j, err := scanContentJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying content job: %w", err)
	}
	return j, nil
}

// ListContentJobs returns content jobs newest first.
func (s *SQLStore) ListContentJobs(ctx context.Context, f ListFilter) ([]*ContentJob, error) {
	var w whereBuilder
	w.eq("conversation_id", f.ConversationID)
	w.eq("organization_id", f.OrganizationID)
	w.eq("status", f.Status)

	query := `SELECT ` + contentJobColumns + ` FROM content_jobs` + w.sql() + ` ORDER BY created_at DESC LIMIT ?`
	args := append(w.args, normalizeLimit(f.Limit))

	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying content jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := []*ContentJob{}
	for rows.Next() {
		j, err := scanContentJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning content job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating content jobs: %w", err)
	}
	return jobs, nil
}

func marshalJobMaps(j *ContentJob) (parsed, result any, err error) {
	if j.Parsed != nil {
		data, err := json.Marshal(j.Parsed)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling parsed instructions: %w", err)
		}
		parsed = string(data)
	}
	if j.Result != nil {
		data, err := json.Marshal(j.Result)
		if err != nil {
			return nil, nil, fmt.Errorf("marshaling render result: %w", err)
		}
		result = string(data)
	}
	return parsed, result, nil
}

func scanContentJob(scanner interface{ Scan(dest ...any) error }) (*ContentJob, error) {
	var j ContentJob
	var conversationID, organizationID, requestedBy, agent sql.NullString
	var parsedJSON, aiActionID, usedFn, resultJSON, errText sql.NullString
	var status, createdAt, updatedAt string

	if err := scanner.Scan(
		&j.ID,
		&conversationID,
		&organizationID,
		&requestedBy,
		&agent,
		&j.Mode,
		&status,
		&j.InstructionText,
		&parsedJSON,
		&aiActionID,
		&usedFn,
		&resultJSON,
		&errText,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	j.ConversationID = conversationID.String
	j.OrganizationID = organizationID.String
	j.RequestedBy = requestedBy.String
	j.Agent = agent.String
	j.AIActionID = aiActionID.String
	j.UsedFn = usedFn.String
	j.Error = errText.String
	j.Status = ContentJobStatus(status)

	if parsedJSON.Valid {
		if err := json.Unmarshal([]byte(parsedJSON.String), &j.Parsed); err != nil {
			return nil, fmt.Errorf("unmarshaling parsed instructions: %w", err)
		}
	}
	if resultJSON.Valid {
		if err := json.Unmarshal([]byte(resultJSON.String), &j.Result); err != nil {
			return nil, fmt.Errorf("unmarshaling render result: %w", err)
		}
	}

	var err error
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &j, nil
}
