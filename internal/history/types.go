package history

import "time"

// Transition describes how a navigation arrived at a page. The low byte
// holds the core type; the high bits hold qualifier flags.
type Transition uint32

// Core transition types.
const (
	TransitionLink             Transition = 0
	TransitionTyped            Transition = 1
	TransitionAutoBookmark     Transition = 2
	TransitionAutoSubframe     Transition = 3
	TransitionManualSubframe   Transition = 4
	TransitionGenerated        Transition = 5
	TransitionAutoToplevel     Transition = 6
	TransitionFormSubmit       Transition = 7
	TransitionReload           Transition = 8
	TransitionKeyword          Transition = 9
	TransitionKeywordGenerated Transition = 10

	TransitionCoreMask Transition = 0xFF
)

// Qualifier flags.
const (
	TransitionForwardBack    Transition = 0x01000000
	TransitionFromAddressBar Transition = 0x02000000
	TransitionHomePage       Transition = 0x04000000
	TransitionChainStart     Transition = 0x10000000
	TransitionChainEnd       Transition = 0x20000000
	TransitionClientRedirect Transition = 0x40000000
	TransitionServerRedirect Transition = 0x80000000

	TransitionRedirectMask Transition = TransitionClientRedirect | TransitionServerRedirect
)

// CoreType strips the qualifier flags.
func (t Transition) CoreType() Transition { return t & TransitionCoreMask }

// IsRedirect reports whether either redirect qualifier is set.
func (t Transition) IsRedirect() bool { return t&TransitionRedirectMask != 0 }

// IsChainStart reports whether this transition begins a redirect chain.
func (t Transition) IsChainStart() bool { return t&TransitionChainStart != 0 }

// IsChainEnd reports whether this transition ends a redirect chain.
func (t Transition) IsChainEnd() bool { return t&TransitionChainEnd != 0 }

// IsMainFrame reports whether the core type is a main-frame navigation.
func (t Transition) IsMainFrame() bool {
	core := t.CoreType()
	return core != TransitionAutoSubframe && core != TransitionManualSubframe
}

// VisitSource records where a visit row came from. SourceBrowsed is the
// zero value and never writes a visit_source row.
type VisitSource int

const (
	SourceBrowsed VisitSource = iota
	SourceSynced
	SourceExtension
	SourceFirefoxImported
	SourceIEImported
	SourceSafariImported
)

// URLRow is one row of the urls table: per-distinct-URL aggregate state.
// VisitCount and TypedCount are denormalized aggregates maintained by the
// owning service, not by the tables themselves.
type URLRow struct {
	ID         int64
	URL        string
	Title      string
	VisitCount int
	TypedCount int
	LastVisit  time.Time
	Hidden     bool
}

// VisitRow is one row of the visits table: a single navigation event.
// ReferringVisit and OpenerVisit are weak references by id; they may point
// at rows that have since been expired.
type VisitRow struct {
	ID                  int64
	URLID               int64
	VisitTime           time.Time
	ReferringVisit      int64
	ExternalReferrerURL string
	Transition          Transition
	SegmentID           int64
	Duration            time.Duration

	// IncrementedOmniboxTypedScore records whether this visit bumped the
	// owning URL row's typed_count when it was added.
	IncrementedOmniboxTypedScore bool
	OpenerVisit                  int64

	// Originator fields are populated only for visits replicated from
	// another device by the sync engine. Locally originated visits leave
	// all four at their zero values.
	OriginatorCacheGUID      string
	OriginatorVisitID        int64
	OriginatorReferringVisit int64
	OriginatorOpenerVisit    int64
	IsKnownToSync            bool
}

// IsForeign reports whether the visit was replicated from another device.
func (v *VisitRow) IsForeign() bool {
	return v.OriginatorCacheGUID != "" && v.OriginatorVisitID != 0
}

// IsVisible reports whether the visit belongs in end-user history UI and
// autocomplete: the end of its redirect chain, a main-frame navigation, and
// not keyword-generated. Every query site must apply this same predicate.
func (v *VisitRow) IsVisible() bool {
	return v.Transition.IsChainEnd() &&
		v.Transition.IsMainFrame() &&
		v.Transition.CoreType() != TransitionKeywordGenerated
}

// Category is an (id, weight) pair attached to a visit's content
// annotations, used for both topic categories and entities.
type Category struct {
	ID     int
	Weight int
}

// PasswordState records whether a password field was seen on the page.
type PasswordState int

const (
	PasswordStateUnknown PasswordState = iota
	PasswordStateNoField
	PasswordStateHasField
)

// ContentAnnotations is the 0-or-1 content annotation row for a visit.
type ContentAnnotations struct {
	VisibilityScore     float64
	Categories          []Category
	Entities            []Category
	RelatedSearches     []string
	SearchNormalizedURL string
	SearchTerms         string
	AlternativeTitle    string
	PageLanguage        string
	PasswordState       PasswordState
}

// ContextAnnotationFlags is a bitmask of boolean context signals.
type ContextAnnotationFlags uint32

const (
	FlagOmniboxURLCopied ContextAnnotationFlags = 1 << iota
	FlagIsExistingPartOfTabGroup
	FlagIsPlacedInTabGroup
	FlagIsExistingBookmark
	FlagIsNewBookmark
	FlagIsNTPCustomLink
)

// ContextAnnotations is the 0-or-1 context annotation row for a visit.
// Duration fields use -1 for "unknown".
type ContextAnnotations struct {
	Flags                   ContextAnnotationFlags
	DurationSinceLastVisit  time.Duration
	PageEndReason           int
	TotalForegroundDuration time.Duration
}

// ClusterVisit is one membership row joining a cluster to a visit.
type ClusterVisit struct {
	VisitID int64
	Score   float64
}

// Cluster groups related visits. A cluster with no member visits is
// meaningless and is never persisted.
type Cluster struct {
	ID     int64
	Score  float64
	Visits []ClusterVisit
}

// VisitedLinkRow is a privacy-partitioned visit-count aggregate keyed by
// the (link URL id, top-level URL, frame URL) triple.
type VisitedLinkRow struct {
	ID          int64
	LinkURLID   int64
	TopLevelURL string
	FrameURL    string
	VisitCount  int
}

// KeywordSearchTermRow associates a URL with the search term that
// generated it for a given keyword (search engine).
type KeywordSearchTermRow struct {
	KeywordID      int64
	URLID          int64
	Term           string
	NormalizedTerm string
}

// VisitOrder controls the sort direction of range queries.
type VisitOrder int

const (
	OrderRecentFirst VisitOrder = iota
	OrderOldestFirst
)

// DuplicatePolicy controls whether multiple visits to the same URL within
// one query collapse to a single result.
type DuplicatePolicy int

const (
	KeepAllDuplicates DuplicatePolicy = iota
	RemoveDuplicatesGlobal
	RemoveDuplicatesPerDay
)

// QueryOptions configures visit range queries. The time range is half-open
// [Begin, End); a zero Begin or End means unbounded on that side. MaxCount
// of 0 means unlimited.
type QueryOptions struct {
	Begin           time.Time
	End             time.Time
	MaxCount        int
	Order           VisitOrder
	DuplicatePolicy DuplicatePolicy
}

// DeletionInfo describes a committed URL deletion for observers.
type DeletionInfo struct {
	IsAllHistory bool
	DeletedRows  []URLRow
}

// GoogleDomainVisit is one candidate row from the Google-domain search
// extraction, consumed by an external domain classifier.
type GoogleDomainVisit struct {
	VisitTime time.Time
	URL       string
}

// DailyVisitsResult aggregates visits to one host over a time range.
type DailyVisitsResult struct {
	TotalVisits    int
	DaysWithVisits int
}

// toDBTime converts a time to the stored representation: microseconds
// since the Unix epoch, with 0 for the zero time.
func toDBTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

// fromDBTime is the inverse of toDBTime.
func fromDBTime(us int64) time.Time {
	if us == 0 {
		return time.Time{}
	}
	return time.UnixMicro(us)
}

// toDBDuration stores durations as microseconds, preserving the -1
// "unknown" sentinel used by context annotations.
func toDBDuration(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return d.Microseconds()
}

func fromDBDuration(us int64) time.Duration {
	if us < 0 {
		return -1
	}
	return time.Duration(us) * time.Microsecond
}
