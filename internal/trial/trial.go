// Package trial defines the trial record and the go/no-go scoring table.
package trial

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type is the trial category drawn with the stimulus pair.
type Type string

const (
	Go    Type = "go"
	NoGo  Type = "no-go"
	Catch Type = "catch"
)

// ParseType accepts the spellings found in level tables.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "go":
		return Go, nil
	case "no-go", "nogo", "no go", "no_go":
		return NoGo, nil
	case "catch":
		return Catch, nil
	}
	return "", fmt.Errorf("unknown trial type %q", s)
}

// Score is the outcome of a trial.
type Score string

const (
	Hit              Score = "hit"
	Miss             Score = "miss"
	FalseAlarm       Score = "fa"
	CorrectRejection Score = "cr"
	CatchResponse    Score = "catch-response"
	CatchNoResponse  Score = "catch-no-response"
)

// Evaluate applies the scoring table.
func Evaluate(t Type, responded bool) (Score, error) {
	switch t {
	case Go:
		if responded {
			return Hit, nil
		}
		return Miss, nil
	case NoGo:
		if responded {
			return FalseAlarm, nil
		}
		return CorrectRejection, nil
	case Catch:
		if responded {
			return CatchResponse, nil
		}
		return CatchNoResponse, nil
	}
	return "", fmt.Errorf("cannot score trial type %q", t)
}

// ErrAlreadyScored is returned by SetScore on a record that has a score.
var ErrAlreadyScored = errors.New("trial already scored")

// Subject is a registered animal.
type Subject struct {
	Tag   string `yaml:"tag" json:"tag"`
	Level string `yaml:"level" json:"level"`
}

// Record is the data collected for one trial.
type Record struct {
	ID         string
	Rig        string
	Subject    *Subject
	StartTime  time.Time
	FirstStim  int
	SecondStim int
	Type       Type
	LickTimes  []time.Duration // relative to response-window start
	Score      Score
	EndTime    time.Time
}

// Begin stamps a fresh trial ID and start time, keeping the subject.
func (r *Record) Begin(rig string, now time.Time) {
	r.ID = uuid.NewString()
	r.Rig = rig
	r.StartTime = now
}

// Reset clears the record for the next Idle period.
func (r *Record) Reset() {
	*r = Record{}
}

// AddLick appends a lick time.
func (r *Record) AddLick(at time.Duration) {
	r.LickTimes = append(r.LickTimes, at)
}

// Scored reports whether a score has been assigned.
func (r *Record) Scored() bool {
	return r.Score != ""
}

// SetScore assigns the score exactly once.
func (r *Record) SetScore(s Score) error {
	if r.Scored() {
		return fmt.Errorf("%w: has %s, refusing %s", ErrAlreadyScored, r.Score, s)
	}
	r.Score = s
	return nil
}

// SubjectTag returns the subject's tag or "" when unset.
func (r *Record) SubjectTag() string {
	if r.Subject == nil {
		return ""
	}
	return r.Subject.Tag
}

// SubjectLevel returns the subject's level or "" when unset.
func (r *Record) SubjectLevel() string {
	if r.Subject == nil {
		return ""
	}
	return r.Subject.Level
}
