package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"contactlink/internal/metrics"
	"contactlink/internal/models"
)

var (
	// ErrInvariantViolation reports contact data that breaks the cluster
	// invariants, such as matches whose cluster has no primary.
	ErrInvariantViolation = errors.New("contact invariant violation")

	// ErrNoContactDetails is returned when neither email nor phone number is given.
	ErrNoContactDetails = errors.New("at least one of email or phoneNumber must be provided")
)

// Outcome describes what an identify call changed.
type Outcome string

const (
	// OutcomeCreatedPrimary means no contact matched and a new primary was stored.
	OutcomeCreatedPrimary Outcome = "created_primary"
	// OutcomeCreatedSecondary means a new detail was linked to an existing cluster.
	OutcomeCreatedSecondary Outcome = "created_secondary"
	// OutcomeMerged means clusters were joined or members re-linked under one primary.
	OutcomeMerged Outcome = "merged"
	// OutcomeUnchanged means every detail was already known.
	OutcomeUnchanged Outcome = "unchanged"
)

// Result is the consolidated identity plus what the call did to reach it.
type Result struct {
	Response *models.IdentifyResponse
	Outcome  Outcome
	// Demoted counts primaries that lost primary status to the canonical one.
	Demoted int
	// Relinked counts secondaries pointed at the canonical primary, such as
	// those of a demoted primary.
	Relinked int
}

// ReconciliationService handles identity reconciliation logic
type ReconciliationService struct {
	tx      Transactor
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(tx Transactor, logger *slog.Logger, m *metrics.Metrics) *ReconciliationService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconciliationService{tx: tx, logger: logger, metrics: m}
}

// Identify resolves the given email and phone number to a single identity,
// merging clusters and recording new details as needed. The whole call runs
// in one transaction; on error nothing it did is kept.
func (s *ReconciliationService) Identify(ctx context.Context, req models.IdentifyRequest) (*Result, error) {
	start := time.Now()
	email, phoneNumber := presentOrNil(req.Email), presentOrNil(req.PhoneNumber)
	if email == nil && phoneNumber == nil {
		return nil, ErrNoContactDetails
	}

	var result *Result
	err := s.tx.RunInTx(ctx, func(contacts ContactGateway) error {
		r, err := s.resolve(ctx, contacts, email, phoneNumber)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	s.metrics.ObserveIdentifyLatency(time.Since(start))
	if err != nil {
		s.metrics.IncrementIdentify("error")
		return nil, err
	}

	s.metrics.IncrementIdentify(string(result.Outcome))
	s.metrics.AddDemoted(result.Demoted)
	s.metrics.AddRelinked(result.Relinked)
	return result, nil
}

func (s *ReconciliationService) resolve(ctx context.Context, contacts ContactGateway, email, phoneNumber *string) (*Result, error) {
	matches, err := contacts.FindMatching(ctx, email, phoneNumber)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		primary, err := contacts.CreatePrimary(ctx, email, phoneNumber)
		if err != nil {
			return nil, err
		}
		return &Result{
			Response: buildResponse(primary, nil),
			Outcome:  OutcomeCreatedPrimary,
		}, nil
	}

	cluster, err := expandCluster(ctx, contacts, rootIDs(matches))
	if err != nil {
		return nil, err
	}

	primary := earliestPrimary(cluster)
	if primary == nil {
		err := fmt.Errorf("%w: no primary for cluster of matched contacts %v", ErrInvariantViolation, contactIDs(matches))
		s.logger.ErrorContext(ctx, "contact cluster has no primary",
			"matched_ids", contactIDs(matches),
			"cluster_ids", contactIDs(cluster),
			"error", err.Error(),
		)
		return nil, err
	}

	demoted, relinked, err := relinkCluster(ctx, contacts, cluster, primary.ID)
	if err != nil {
		return nil, err
	}
	if demoted > 0 || relinked > 0 {
		s.logger.InfoContext(ctx, "merged contact clusters",
			"primary_contact_id", primary.ID,
			"demoted", demoted,
			"relinked", relinked,
		)
	}

	refreshed, err := contacts.FindClusterByRoots(ctx, []int64{primary.ID})
	if err != nil {
		return nil, err
	}

	var secondaries []*models.Contact
	for _, c := range refreshed {
		if c.ID == primary.ID {
			primary = c
			continue
		}
		secondaries = append(secondaries, c)
	}
	slices.SortStableFunc(secondaries, compareCreated)

	outcome := OutcomeUnchanged
	if demoted > 0 || relinked > 0 {
		outcome = OutcomeMerged
	}

	if !knownIn(refreshed, email, emailOf) || !knownIn(refreshed, phoneNumber, phoneOf) {
		s.logger.DebugContext(ctx, "creating secondary contact", "primary_contact_id", primary.ID)
		secondary, err := contacts.CreateSecondary(ctx, primary.ID, email, phoneNumber)
		if err != nil {
			return nil, err
		}
		secondaries = append(secondaries, secondary)
		if outcome == OutcomeUnchanged {
			outcome = OutcomeCreatedSecondary
		}
	}

	return &Result{
		Response: buildResponse(primary, secondaries),
		Outcome:  outcome,
		Demoted:  demoted,
		Relinked: relinked,
	}, nil
}

// rootIDs collects the primaries the matched contacts belong to.
func rootIDs(matches []*models.Contact) []int64 {
	var roots []int64
	for _, c := range matches {
		if id := c.RootID(); !slices.Contains(roots, id) {
			roots = append(roots, id)
		}
	}
	return roots
}

// expandCluster loads every contact connected to roots through linkedId,
// following links in both directions until no new ids appear. A store that
// keeps secondaries one level deep settles after the first round trip that
// returns no new ids.
func expandCluster(ctx context.Context, contacts ContactGateway, roots []int64) ([]*models.Contact, error) {
	byID := make(map[int64]*models.Contact)
	seen := make(map[int64]struct{}, len(roots))
	for _, id := range roots {
		seen[id] = struct{}{}
	}

	frontier := roots
	for len(frontier) > 0 {
		batch, err := contacts.FindClusterByRoots(ctx, frontier)
		if err != nil {
			return nil, err
		}

		frontier = nil
		for _, c := range batch {
			byID[c.ID] = c
			for _, id := range linkEnds(c) {
				if _, ok := seen[id]; ok {
					continue
				}
				seen[id] = struct{}{}
				frontier = append(frontier, id)
			}
		}
	}

	cluster := make([]*models.Contact, 0, len(byID))
	for _, c := range byID {
		cluster = append(cluster, c)
	}
	slices.SortFunc(cluster, compareCreated)
	return cluster, nil
}

// linkEnds returns the ids a contact connects to: itself, since other
// contacts may link to it, and the contact it links to.
func linkEnds(c *models.Contact) []int64 {
	if c.LinkedID != nil {
		return []int64{c.ID, *c.LinkedID}
	}
	return []int64{c.ID}
}

// relinkCluster makes primaryID the only primary and points every other
// member directly at it. Already consistent members are left untouched. It
// returns how many primaries were demoted and how many secondaries moved.
func relinkCluster(ctx context.Context, contacts ContactGateway, cluster []*models.Contact, primaryID int64) (demoted, relinked int, err error) {
	for _, c := range cluster {
		if c.ID == primaryID {
			continue
		}
		if !c.IsPrimary() && c.LinkedID != nil && *c.LinkedID == primaryID {
			continue
		}
		if _, err := contacts.ConvertToSecondary(ctx, c.ID, primaryID); err != nil {
			return demoted, relinked, err
		}
		if c.IsPrimary() {
			demoted++
		} else {
			relinked++
		}
	}
	return demoted, relinked, nil
}

// earliestPrimary picks the canonical primary: the oldest contact that is a
// primary. Secondaries are skipped even when their clock reads earlier, so a
// skewed timestamp cannot strand a cluster without a root.
func earliestPrimary(cluster []*models.Contact) *models.Contact {
	var first *models.Contact
	for _, c := range cluster {
		if !c.IsPrimary() {
			continue
		}
		if first == nil || c.CreatedBefore(first) {
			first = c
		}
	}
	return first
}

// knownIn reports whether value is already held by a cluster member.
// An absent value counts as known.
func knownIn(cluster []*models.Contact, value *string, field func(*models.Contact) *string) bool {
	if value == nil {
		return true
	}
	for _, c := range cluster {
		if v := field(c); v != nil && *v == *value {
			return true
		}
	}
	return false
}

func emailOf(c *models.Contact) *string { return c.Email }

func phoneOf(c *models.Contact) *string { return c.PhoneNumber }

// buildResponse builds the identify response for a primary and its secondaries,
// listing the primary's details first and then the secondaries' in creation order.
func buildResponse(primary *models.Contact, secondaries []*models.Contact) *models.IdentifyResponse {
	emails := newOrderedSet()
	phoneNumbers := newOrderedSet()
	secondaryIDs := make([]int64, 0, len(secondaries))

	emails.Add(primary.Email)
	phoneNumbers.Add(primary.PhoneNumber)
	for _, c := range secondaries {
		emails.Add(c.Email)
		phoneNumbers.Add(c.PhoneNumber)
		secondaryIDs = append(secondaryIDs, c.ID)
	}

	return &models.IdentifyResponse{
		Contact: models.ContactResponse{
			PrimaryContactID:    primary.ID,
			Emails:              emails.Values(),
			PhoneNumbers:        phoneNumbers.Values(),
			SecondaryContactIDs: secondaryIDs,
		},
	}
}

func compareCreated(a, b *models.Contact) int {
	switch {
	case a.CreatedBefore(b):
		return -1
	case b.CreatedBefore(a):
		return 1
	default:
		return 0
	}
}

func contactIDs(contacts []*models.Contact) []int64 {
	ids := make([]int64, len(contacts))
	for i, c := range contacts {
		ids[i] = c.ID
	}
	return ids
}

func presentOrNil(s *string) *string {
	if v, ok := models.Present(s); ok {
		return &v
	}
	return nil
}
