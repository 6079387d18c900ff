package schema

import (
	"strings"
	"time"
)

// TabID identifies one of the top-level sections of the app.
type TabID string

const (
	// TabHome is the landing tab every reset returns to.
	TabHome TabID = "home"
	// TabGarage holds the user's collected cards and the capture flow.
	TabGarage TabID = "garage"
	// TabShop sells in-app items.
	TabShop TabID = "shop"
	// TabMarketplace lists cards offered by other users.
	TabMarketplace TabID = "marketplace"
	// TabLeaderboard ranks collectors.
	TabLeaderboard TabID = "leaderboard"
)

// AllTabs lists the known tabs in display order.
var AllTabs = []TabID{TabHome, TabGarage, TabShop, TabMarketplace, TabLeaderboard}

// Valid reports whether the tab is one of the known tabs.
func (t TabID) Valid() bool {
	for _, known := range AllTabs {
		if t == known {
			return true
		}
	}
	return false
}

// ParseTabID normalizes user input into a known tab.
func ParseTabID(value string) (TabID, error) {
	tab := TabID(strings.ToLower(strings.TrimSpace(value)))
	if !tab.Valid() {
		return "", ErrInvalidTab
	}
	return tab, nil
}

// DestinationKind names the kind of screen a destination opens.
type DestinationKind string

const (
	// DestinationCard shows a single collected card.
	DestinationCard DestinationKind = "card"
	// DestinationCollection shows a filtered list of cards.
	DestinationCollection DestinationKind = "collection"
	// DestinationListing shows a marketplace listing.
	DestinationListing DestinationKind = "listing"
	// DestinationListingCreate opens the sell flow for a card.
	DestinationListingCreate DestinationKind = "listing_create"
	// DestinationListingCheckout opens the buy flow for a listing.
	DestinationListingCheckout DestinationKind = "listing_checkout"
	// DestinationProfile shows a collector profile.
	DestinationProfile DestinationKind = "profile"
	// DestinationCapture opens the capture flow.
	DestinationCapture DestinationKind = "capture"
	// DestinationSettings opens settings.
	DestinationSettings DestinationKind = "settings"
)

// Destination is one entry of a tab's navigation path.
type Destination struct {
	Kind DestinationKind `json:"kind"`
	Ref  string          `json:"ref,omitempty"`
}

// Orientation is a set of allowed display orientations.
type Orientation string

const (
	// OrientationAll is the unlocked default.
	OrientationAll Orientation = "all"
	// OrientationPortrait locks to upright portrait.
	OrientationPortrait Orientation = "portrait"
	// OrientationPortraitUpsideDown locks to upside-down portrait.
	OrientationPortraitUpsideDown Orientation = "portrait_upside_down"
	// OrientationLandscape allows both landscape orientations.
	OrientationLandscape Orientation = "landscape"
	// OrientationLandscapeLeft locks to landscape left.
	OrientationLandscapeLeft Orientation = "landscape_left"
	// OrientationLandscapeRight locks to landscape right.
	OrientationLandscapeRight Orientation = "landscape_right"
)

// ParseOrientation normalizes an orientation name.
func ParseOrientation(value string) (Orientation, bool) {
	o := Orientation(strings.ToLower(strings.TrimSpace(value)))
	switch o {
	case OrientationAll, OrientationPortrait, OrientationPortraitUpsideDown,
		OrientationLandscape, OrientationLandscapeLeft, OrientationLandscapeRight:
		return o, true
	}
	return "", false
}

// SessionID identifies a capture session.
type SessionID string

// CardID identifies a saved card.
type CardID string

// SubjectKind distinguishes vehicles from drivers.
type SubjectKind string

const (
	// SubjectVehicle is a car identified by make/model/generation.
	SubjectVehicle SubjectKind = "vehicle"
	// SubjectDriver is a person identified by name.
	SubjectDriver SubjectKind = "driver"
)

// Subject is the metadata the identification step attaches to a photo.
type Subject struct {
	Kind       SubjectKind `json:"kind" yaml:"kind"`
	Make       string      `json:"make,omitempty" yaml:"make,omitempty"`
	Model      string      `json:"model,omitempty" yaml:"model,omitempty"`
	Generation string      `json:"generation,omitempty" yaml:"generation,omitempty"`
	FirstName  string      `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName   string      `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Confidence float64     `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// Title renders a display name for the subject.
func (s Subject) Title() string {
	var parts []string
	if s.Kind == SubjectDriver {
		parts = []string{s.FirstName, s.LastName}
	} else {
		parts = []string{s.Make, s.Model}
		if s.Generation != "" {
			parts = append(parts, "("+s.Generation+")")
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// Validate checks that the subject carries enough fields to be shown.
func (s Subject) Validate() error {
	switch s.Kind {
	case SubjectVehicle, "":
		if strings.TrimSpace(s.Make) == "" || strings.TrimSpace(s.Model) == "" {
			return ErrInvalidSubject
		}
	case SubjectDriver:
		if strings.TrimSpace(s.FirstName) == "" && strings.TrimSpace(s.LastName) == "" {
			return ErrInvalidSubject
		}
	default:
		return ErrInvalidSubject
	}
	return nil
}

// Image is a captured photo. Data is opaque to the core.
type Image struct {
	Data        []byte `json:"-"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `json:"content_type,omitempty"`
}

// Empty reports whether the image carries no pixels.
func (i Image) Empty() bool {
	return len(i.Data) == 0
}

// Artifact is the final product of a confirmed capture session.
type Artifact struct {
	SessionID  SessionID `json:"session_id"`
	Image      Image     `json:"image"`
	Subject    Subject   `json:"subject"`
	CapturedAt time.Time `json:"captured_at"`
}

// Card is a persisted artifact.
type Card struct {
	ID          CardID    `json:"id"`
	SessionID   SessionID `json:"session_id"`
	Subject     Subject   `json:"subject"`
	ImageSHA256 string    `json:"image_sha256"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	ContentType string    `json:"content_type,omitempty"`
	ImageBytes  int       `json:"image_bytes"`
	CreatedAt   time.Time `json:"created_at"`
}
