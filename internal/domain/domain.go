// Package domain holds the data types shared by the job store, the
// protocol driver, and the scheduler orchestrator: sites, profiles, jobs,
// and the cookie set that follows a job from creation through submission.
package domain

import "time"

// Site identifies which upstream booking flow a Job targets.
type Site string

const (
	SiteBromo  Site = "bromo"
	SiteSemeru Site = "semeru"
)

// Bank enumerates the payment channels the upstream site accepts.
type Bank string

const (
	BankQRIS      Bank = "qris"
	BankVAMandiri Bank = "VA-Mandiri"
	BankVABNI     Bank = "VA-BNI"
)

// Cookies is the set of optional session cookies carried on a Job. A
// present CISession shadows the user-global token for that job only
// (spec invariant: cookies.ci_session shadows the user-global token).
type Cookies struct {
	GA        string `json:"_ga,omitempty"`
	GASession string `json:"_ga_session,omitempty"`
	CISession string `json:"ci_session,omitempty"`
}

// Leader is the identity information common to both site profiles.
type Leader struct {
	Name         string `json:"name"`
	Address      string `json:"address"`
	IdentityKind string `json:"identity_kind"`
	IdentityNo   string `json:"identity_no"`
	Phone        string `json:"phone"`
	Email        string `json:"email"`
}

// BromoProfile is the Bromo (day-use gate) booking payload.
type BromoProfile struct {
	Leader        Leader `json:"leader"`
	Gate          int    `json:"gate"`           // 1..4
	Vehicle       int    `json:"vehicle"`        // 1,2,3,4,6
	VehicleCount  int    `json:"vehicle_count"`  // [1,20]
	Male          int    `json:"male"`           // [0,19]
	Female        int    `json:"female"`         // [0,19]
	Bank          Bank   `json:"bank"`
	ProvinceCode  string `json:"province_code"`
	DistrictCode  string `json:"district_code"`
}

// Member is one entry in a Semeru manifest (0..9, legal minimum 1).
type Member struct {
	Name         string `json:"name"`
	Birthdate    string `json:"birthdate"` // YYYY-MM-DD
	Gender       int    `json:"gender"`    // 1,2
	Address      string `json:"address"`
	IdentityKind string `json:"identity_kind"`
	IdentityNo   string `json:"identity_no"`
	MemberPhone  string `json:"member_phone"`
	FamilyPhone  string `json:"family_phone"`
	JobCode      string `json:"job_code"`
}

// SemeruLeader extends Leader with the fields only the Semeru form asks
// the leader for.
type SemeruLeader struct {
	Leader
	Organisation  string `json:"organisation"`
	Pendamping    int    `json:"pendamping"`     // 0,1
	LeaderConsent int    `json:"leader_consent"` // 0,1
	Bank          Bank   `json:"bank"`
}

// SemeruProfile is the Semeru (multi-day trek) booking payload. A
// submittable profile requires the leader plus at least one member
// (legal minimum); the roster is capped at 9 members at submission time.
type SemeruProfile struct {
	Leader  SemeruLeader `json:"leader"`
	Members []Member     `json:"members"`
}

const MaxSemeruMembers = 9

// Profile is implemented by *BromoProfile and *SemeruProfile.
type Profile interface {
	site() Site
}

func (*BromoProfile) site() Site  { return SiteBromo }
func (*SemeruProfile) site() Site { return SiteSemeru }

// Job is a persistent record describing a future booking submission.
type Job struct {
	JobName         string    `json:"-"` // derived, not stored as a field inside itself
	Site            Site      `json:"site"`
	BookingDate     time.Time `json:"booking_date"` // calendar date, no time component
	ExecAt          time.Time `json:"exec_at"`       // Asia/Jakarta wall clock
	Bromo           *BromoProfile  `json:"bromo_profile,omitempty"`
	Semeru          *SemeruProfile `json:"semeru_profile,omitempty"`
	Cookies         Cookies   `json:"cookies"`
	ReminderMinutes *int      `json:"reminder_minutes,omitempty"` // 0..120
	ChatID          string    `json:"chat_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Profile returns the site-specific payload as the Profile interface.
func (j *Job) Profile() Profile {
	if j.Site == SiteBromo {
		return j.Bromo
	}
	return j.Semeru
}

// UserRecord is keyed by user id in the store's top-level document.
type UserRecord struct {
	CISession string         `json:"ci_session"`
	Jobs      map[string]Job `json:"jobs"`
}
