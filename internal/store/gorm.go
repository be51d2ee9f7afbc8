package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/spothuman/spothuman/internal/game"
)

// Store persists match state in SQLite. Responses and votes are rows, not a
// serialized map, so a concurrent writer merges one key with an upsert
// instead of overwriting the whole record, and phase transitions are
// conditional updates on the round row.
type Store struct {
	db *gorm.DB
}

type matchRow struct {
	ID                string `gorm:"primaryKey"`
	Status            string
	CurrentRound      int
	TotalRounds       int
	TotalParticipants int
	HumanSeats        int
	FinalScores       string
	CreatedAt         time.Time
}

type participantRow struct {
	ID          string `gorm:"primaryKey"`
	MatchID     string `gorm:"index"`
	Identity    string
	Kind        string
	Label       string
	Personality string
	ExternalRef string `gorm:"index"`
	JoinedAt    time.Time
}

type roundRow struct {
	MatchID   string `gorm:"primaryKey"`
	Number    int    `gorm:"primaryKey"`
	Prompt    string
	Phase     string
	Scores    string
	StartedAt time.Time
	EndedAt   *time.Time
}

type responseRow struct {
	MatchID   string `gorm:"primaryKey"`
	Round     int    `gorm:"primaryKey"`
	Identity  string `gorm:"primaryKey"`
	Text      string
	Generated bool
}

type voteRow struct {
	MatchID string `gorm:"primaryKey"`
	Round   int    `gorm:"primaryKey"`
	Voter   string `gorm:"primaryKey"`
	Guess   string
}

func (matchRow) TableName() string       { return "matches" }
func (participantRow) TableName() string { return "participants" }
func (roundRow) TableName() string       { return "rounds" }
func (responseRow) TableName() string    { return "responses" }
func (voteRow) TableName() string        { return "votes" }

// Open opens (or creates) the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.AutoMigrate(&matchRow{}, &participantRow{}, &roundRow{}, &responseRow{}, &voteRow{}, &eventRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) GetMatch(ctx context.Context, id string) (*game.Match, error) {
	var mr matchRow
	err := s.db.WithContext(ctx).First(&mr, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, game.ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, mr)
}

func (s *Store) FindByExternalRef(ctx context.Context, ref string) (*game.Match, error) {
	var pr participantRow
	err := s.db.WithContext(ctx).First(&pr, "external_ref = ? AND kind = ?", ref, string(game.KindHuman)).Error
	if err == gorm.ErrRecordNotFound {
		return nil, game.ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetMatch(ctx, pr.MatchID)
}

func (s *Store) assemble(ctx context.Context, mr matchRow) (*game.Match, error) {
	m := &game.Match{
		ID:                mr.ID,
		Status:            game.Status(mr.Status),
		CurrentRound:      mr.CurrentRound,
		TotalRounds:       mr.TotalRounds,
		TotalParticipants: mr.TotalParticipants,
		HumanSeats:        mr.HumanSeats,
		Participants:      []*game.Participant{},
		Rounds:            []*game.Round{},
		CreatedAt:         mr.CreatedAt,
	}
	if mr.FinalScores != "" {
		if err := json.Unmarshal([]byte(mr.FinalScores), &m.FinalScores); err != nil {
			return nil, err
		}
	}

	var prs []participantRow
	if err := s.db.WithContext(ctx).Where("match_id = ?", mr.ID).Order("joined_at").Find(&prs).Error; err != nil {
		return nil, err
	}
	for _, pr := range prs {
		m.Participants = append(m.Participants, &game.Participant{
			ID:          pr.ID,
			Identity:    game.Identity(pr.Identity),
			Kind:        game.Kind(pr.Kind),
			Label:       pr.Label,
			Personality: pr.Personality,
			ExternalRef: pr.ExternalRef,
			JoinedAt:    pr.JoinedAt,
		})
	}

	var rrs []roundRow
	if err := s.db.WithContext(ctx).Where("match_id = ?", mr.ID).Order("number").Find(&rrs).Error; err != nil {
		return nil, err
	}
	for _, rr := range rrs {
		r := &game.Round{
			Number:    rr.Number,
			Prompt:    rr.Prompt,
			Phase:     game.Phase(rr.Phase),
			Responses: make(map[game.Identity]string),
			Votes:     make(map[game.Identity]game.Identity),
			Scores:    make(map[game.Identity]int),
			StartedAt: rr.StartedAt,
			EndedAt:   rr.EndedAt,
		}
		if rr.Scores != "" {
			if err := json.Unmarshal([]byte(rr.Scores), &r.Scores); err != nil {
				return nil, err
			}
		}
		m.Rounds = append(m.Rounds, r)
	}

	var resps []responseRow
	if err := s.db.WithContext(ctx).Where("match_id = ?", mr.ID).Find(&resps).Error; err != nil {
		return nil, err
	}
	for _, rr := range resps {
		if rr.Round >= 1 && rr.Round <= len(m.Rounds) {
			m.Rounds[rr.Round-1].Responses[game.Identity(rr.Identity)] = rr.Text
		}
	}

	var votes []voteRow
	if err := s.db.WithContext(ctx).Where("match_id = ?", mr.ID).Find(&votes).Error; err != nil {
		return nil, err
	}
	for _, vr := range votes {
		if vr.Round >= 1 && vr.Round <= len(m.Rounds) {
			m.Rounds[vr.Round-1].Votes[game.Identity(vr.Voter)] = game.Identity(vr.Guess)
		}
	}
	return m, nil
}

// PutMatch writes the match record, roster, and round metadata. Responses and
// votes are never written here; they only move through the merge operations,
// so a full-record put cannot clobber a concurrent submission.
func (s *Store) PutMatch(ctx context.Context, m *game.Match) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		finals := ""
		if m.FinalScores != nil {
			b, _ := json.Marshal(m.FinalScores)
			finals = string(b)
		}
		mr := matchRow{
			ID:                m.ID,
			Status:            string(m.Status),
			CurrentRound:      m.CurrentRound,
			TotalRounds:       m.TotalRounds,
			TotalParticipants: m.TotalParticipants,
			HumanSeats:        m.HumanSeats,
			FinalScores:       finals,
			CreatedAt:         m.CreatedAt,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&mr).Error; err != nil {
			return err
		}
		if err := tx.Where("match_id = ?", m.ID).Delete(&participantRow{}).Error; err != nil {
			return err
		}
		for _, p := range m.Participants {
			pr := participantRow{
				ID:          p.ID,
				MatchID:     m.ID,
				Identity:    string(p.Identity),
				Kind:        string(p.Kind),
				Label:       p.Label,
				Personality: p.Personality,
				ExternalRef: p.ExternalRef,
				JoinedAt:    p.JoinedAt,
			}
			if err := tx.Create(&pr).Error; err != nil {
				return err
			}
		}
		for _, r := range m.Rounds {
			rr := roundRow{
				MatchID:   m.ID,
				Number:    r.Number,
				Prompt:    r.Prompt,
				Phase:     string(r.Phase),
				StartedAt: r.StartedAt,
				EndedAt:   r.EndedAt,
			}
			if len(r.Scores) > 0 {
				b, _ := json.Marshal(r.Scores)
				rr.Scores = string(b)
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "match_id"}, {Name: "number"}},
				DoUpdates: clause.AssignmentColumns([]string{"prompt", "started_at"}),
			}).Create(&rr).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) DeleteMatch(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&participantRow{}, &roundRow{}, &responseRow{}, &voteRow{}} {
			if err := tx.Where("match_id = ?", id).Delete(model).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&matchRow{ID: id}).Error
	})
}

// DeleteParticipant removes one roster seat without writing back match or
// round state.
func (s *Store) DeleteParticipant(ctx context.Context, matchID, participantID string) error {
	return s.db.WithContext(ctx).
		Where("match_id = ? AND id = ?", matchID, participantID).
		Delete(&participantRow{}).Error
}

// MergeResponse upserts a single response key. Duplicate delivery lands on
// the same primary key and overwrites in place.
func (s *Store) MergeResponse(ctx context.Context, matchID string, round int, identity game.Identity, text string, generated bool) error {
	row := responseRow{MatchID: matchID, Round: round, Identity: string(identity), Text: text, Generated: generated}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}, {Name: "round"}, {Name: "identity"}},
		DoUpdates: clause.AssignmentColumns([]string{"text", "generated"}),
	}).Create(&row).Error
}

// MergeVote upserts a single vote key.
func (s *Store) MergeVote(ctx context.Context, matchID string, round int, voter, guess game.Identity) error {
	row := voteRow{MatchID: matchID, Round: round, Voter: string(voter), Guess: string(guess)}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "match_id"}, {Name: "round"}, {Name: "voter"}},
		DoUpdates: clause.AssignmentColumns([]string{"guess"}),
	}).Create(&row).Error
}

// SwapRoundPhase transitions the round phase only if it still holds the
// expected value. Exactly one of several racing callers observes true.
func (s *Store) SwapRoundPhase(ctx context.Context, matchID string, round int, from, to game.Phase) (bool, error) {
	res := s.db.WithContext(ctx).Model(&roundRow{}).
		Where("match_id = ? AND number = ? AND phase = ?", matchID, round, string(from)).
		Update("phase", string(to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SwapMatchStatus is the equivalent compare-and-swap on the match record.
func (s *Store) SwapMatchStatus(ctx context.Context, matchID string, from, to game.Status) (bool, error) {
	res := s.db.WithContext(ctx).Model(&matchRow{}).
		Where("id = ? AND status = ?", matchID, string(from)).
		Update("status", string(to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SaveRoundResult records a completed round's scores and end time. Only the
// phase-swap winner calls this, so it is a plain update.
func (s *Store) SaveRoundResult(ctx context.Context, matchID string, round int, scores map[game.Identity]int, endedAt time.Time) error {
	b, _ := json.Marshal(scores)
	return s.db.WithContext(ctx).Model(&roundRow{}).
		Where("match_id = ? AND number = ?", matchID, round).
		Updates(map[string]any{"scores": string(b), "ended_at": endedAt}).Error
}

// AppendRound creates the next round row and advances the match pointer.
func (s *Store) AppendRound(ctx context.Context, matchID string, r *game.Round) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rr := roundRow{
			MatchID:   matchID,
			Number:    r.Number,
			Prompt:    r.Prompt,
			Phase:     string(r.Phase),
			StartedAt: r.StartedAt,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rr).Error; err != nil {
			return err
		}
		return tx.Model(&matchRow{}).Where("id = ?", matchID).
			Update("current_round", r.Number).Error
	})
}

// CompleteMatch marks the match completed with its final score totals.
func (s *Store) CompleteMatch(ctx context.Context, matchID string, finalScores map[game.Identity]int) error {
	b, _ := json.Marshal(finalScores)
	return s.db.WithContext(ctx).Model(&matchRow{}).
		Where("id = ?", matchID).
		Updates(map[string]any{"status": string(game.StatusCompleted), "final_scores": string(b)}).Error
}
