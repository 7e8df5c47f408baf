package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// slugPattern matches runs of characters other than a-z and 0-9; Slug
// collapses each run into a single hyphen.
var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases name and replaces runs of non-alphanumeric characters
// with a single hyphen, trimming leading/trailing hyphens.
func Slug(name string) string {
	s := slugPattern.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

// leaderName returns the leader's name for the job's site, or "" if the
// job carries no profile yet.
func (j *Job) leaderName() string {
	switch p := j.Profile().(type) {
	case *BromoProfile:
		if p == nil {
			return ""
		}
		return p.Leader.Name
	case *SemeruProfile:
		if p == nil {
			return ""
		}
		return p.Leader.Name
	default:
		return ""
	}
}

// JobNameComponents are the five fields encoded in a job_name string.
type JobNameComponents struct {
	Site        Site
	UserID      string
	LeaderSlug  string
	BookingDate string // YYYY-MM-DD
	ExecStamp   string // YYYY-MM-DD-HHMMSS
}

// BuildJobName derives the canonical job_name for j under userID, per the
// spec's "{site}-{uid}-{slug(leader)}-{booking}-{exec_date}-{hhmmss}"
// format.
func BuildJobName(userID string, j *Job) string {
	return fmt.Sprintf("%s-%s-%s-%s-%s-%s",
		j.Site,
		userID,
		Slug(j.leaderName()),
		j.BookingDate.Format("2006-01-02"),
		j.ExecAt.Format("2006-01-02"),
		j.ExecAt.Format("150405"),
	)
}

// jobNamePattern splits a job_name back into its six hyphen-joined
// segments. userID is required to be hyphen-free (chat-platform user ids
// are numeric or alphanumeric tokens), so the leader slug, which may
// itself contain hyphens, is unambiguously everything between userID and
// the first of the two trailing ISO dates.
var jobNamePattern = regexp.MustCompile(
	`^(bromo|semeru)-([a-z0-9]+)-(.*)-(\d{4}-\d{2}-\d{2})-(\d{4}-\d{2}-\d{2})-(\d{2})(\d{2})(\d{2})$`,
)

// ParseJobName recovers the five logical components of a job_name string.
// Returns false if name does not match the canonical format.
func ParseJobName(name string) (JobNameComponents, bool) {
	m := jobNamePattern.FindStringSubmatch(name)
	if m == nil {
		return JobNameComponents{}, false
	}
	return JobNameComponents{
		Site:        Site(m[1]),
		UserID:      m[2],
		LeaderSlug:  m[3],
		BookingDate: m[4],
		ExecStamp:   m[5] + "-" + m[6] + m[7] + m[8],
	}, true
}
