// ABOUTME: Channel credential store for provider tokens and API keys
// ABOUTME: Supports global defaults with per-organization overrides, sealed at rest when keyed

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/2389/wrap-gateway/internal/action"
)

// PutCredential creates or replaces the credential for (channel, name, organization).
func (s *SQLStore) PutCredential(ctx context.Context, c *ChannelCredential) error {
	if c.Channel == "" || c.Name == "" {
		return errors.New("credential requires a channel and a name")
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	value := c.Value
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(c.Value)
		if err != nil {
			return fmt.Errorf("sealing credential: %w", err)
		}
		value = sealed
	}

	_, err := s.exec(ctx, `
		INSERT INTO channel_credentials (id, channel, name, value, organization_id, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (channel, name, organization_id) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`,
		c.ID,
		string(c.Channel),
		c.Name,
		value,
		c.OrganizationID,
		nullString(c.CreatedBy),
		formatTime(c.CreatedAt),
		formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}

	s.logger.Debug("stored credential", "channel", c.Channel, "name", c.Name, "organization_id", c.OrganizationID, "sealed", s.sealer != nil)
	return nil
}

// GetCredential resolves a credential. An organization-scoped row takes
// precedence over the global default.
// Returns ErrNotFound if neither exists.
func (s *SQLStore) GetCredential(ctx context.Context, channel action.Channel, name, organizationID string) (*ChannelCredential, error) {
	query := `
		SELECT id, channel, name, value, organization_id, created_by, created_at, updated_at
		FROM channel_credentials
		WHERE channel = ? AND name = ? AND (organization_id = ? OR organization_id = '')
		ORDER BY CASE WHEN organization_id = '' THEN 1 ELSE 0 END
		LIMIT 1
	`

	var c ChannelCredential
	var ch string
	var createdBy sql.NullString
	var createdAt, updatedAt string

	err := s.queryRow(ctx, query, string(channel), name, organizationID).Scan(
		&c.ID,
		&ch,
		&c.Name,
		&c.Value,
		&c.OrganizationID,
		&createdBy,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}

	c.Channel = action.Channel(ch)
	c.CreatedBy = createdBy.String
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}

	switch {
	case s.sealer != nil:
		if c.Value, err = s.sealer.Open(c.Value); err != nil {
			return nil, fmt.Errorf("opening credential %s/%s: %w", channel, name, err)
		}
	case IsSealed(c.Value):
		return nil, ErrSealedCredential
	}
	return &c, nil
}

// DeleteCredential removes a credential.
// Returns ErrNotFound if it doesn't exist.
func (s *SQLStore) DeleteCredential(ctx context.Context, channel action.Channel, name, organizationID string) error {
	result, err := s.exec(ctx,
		`DELETE FROM channel_credentials WHERE channel = ? AND name = ? AND organization_id = ?`,
		string(channel), name, organizationID)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted credential", "channel", channel, "name", name)
	return nil
}
