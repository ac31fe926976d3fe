package virtual

import (
	"context"
	"errors"
	"sort"

	"accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/core/domain/repository"
)

// Wish computes what a request actually asks for: the difference between the
// request's proposal and the effective current state, which is the confirmed
// virtual account overlaid with every unrealized request queued before this
// one. Stacked in-flight requests against the same logical account therefore
// compose instead of each claiming the full payload.
func (q *Queue) Wish(ctx context.Context, requestID string) (*model.Wish, error) {
	request, err := q.repo.FindVsRequestByID(ctx, requestID)
	if err != nil {
		return nil, err
	}

	base, err := q.effectiveBase(ctx, request)
	if err != nil {
		return nil, err
	}

	wish := &model.Wish{
		RequestID:  request.ID,
		UID:        request.UID,
		Attributes: make(map[string]model.ValueDiff),
	}

	if request.Type == model.OperationDelete {
		for name, value := range base {
			wish.Attributes[name] = q.diffValue(request.Descriptors, name, value, nil)
		}
		return wish, nil
	}

	names := make(map[string]bool, len(base)+len(request.Attributes))
	for name := range base {
		names[name] = true
	}
	for name := range request.Attributes {
		names[name] = true
	}
	for name := range names {
		wish.Attributes[name] = q.diffValue(request.Descriptors, name, base[name], request.Attributes[name])
	}
	return wish, nil
}

// effectiveBase is the confirmed account state with older unrealized requests
// applied in creation order.
func (q *Queue) effectiveBase(ctx context.Context, request *model.VsRequest) (model.AttributeMap, error) {
	base := model.AttributeMap{}
	account, err := q.repo.FindVsAccount(ctx, request.SystemID, request.UID)
	switch {
	case err == nil:
		base = account.Attributes.Clone()
	case !errors.Is(err, repository.ErrVsAccountNotFound):
		return nil, err
	}

	queued, err := q.repo.ListUnrealizedVsRequests(ctx, request.SystemID, request.UID)
	if err != nil {
		return nil, err
	}
	for _, earlier := range queued {
		if !earlier.CreateTime.Before(request.CreateTime) || earlier.ID == request.ID {
			continue
		}
		for k, v := range earlier.Attributes {
			base[k] = v
		}
	}
	return base, nil
}

// diffValue diffs one attribute under its frozen descriptor. Multi-valued
// attributes get per-element classification; scalars get a single
// before/after verdict.
func (q *Queue) diffValue(descs model.DescriptorMap, name string, before, after interface{}) model.ValueDiff {
	desc, ok := descs[name]
	if !ok {
		desc = model.AttributeDescriptor{SchemaName: name, Multivalued: isMultivalued(before) || isMultivalued(after)}
	}

	if desc.Multivalued {
		return model.ValueDiff{
			SchemaName: name,
			Elements:   q.diffElements(toSlice(before), toSlice(after), desc),
		}
	}

	diff := model.ValueDiff{SchemaName: name, Before: before, After: after}
	switch {
	case q.comparator.Equal(before, after, desc):
		diff.Kind = model.DiffUnchanged
	case before == nil:
		diff.Kind = model.DiffAdded
	case after == nil:
		diff.Kind = model.DiffRemoved
	default:
		diff.Kind = model.DiffChanged
	}
	return diff
}

// diffElements classifies each element of a multi-valued attribute: present
// in both sides UNCHANGED, only proposed ADDED, only current REMOVED.
// Elements keep base order, additions follow in proposal order.
func (q *Queue) diffElements(before, after []interface{}, desc model.AttributeDescriptor) []model.ElementDiff {
	afterKeys := make(map[string]bool, len(after))
	for _, v := range after {
		afterKeys[q.comparator.Key(v, desc)] = true
	}
	beforeKeys := make(map[string]bool, len(before))
	for _, v := range before {
		beforeKeys[q.comparator.Key(v, desc)] = true
	}

	var elements []model.ElementDiff
	for _, v := range before {
		kind := model.DiffRemoved
		if afterKeys[q.comparator.Key(v, desc)] {
			kind = model.DiffUnchanged
		}
		elements = append(elements, model.ElementDiff{Value: v, Kind: kind})
	}
	for _, v := range after {
		if !beforeKeys[q.comparator.Key(v, desc)] {
			elements = append(elements, model.ElementDiff{Value: v, Kind: model.DiffAdded})
		}
	}
	return elements
}

// ListWishes computes the wishes of every unrealized request of a uid, oldest
// first, for the implementer's work view.
func (q *Queue) ListWishes(ctx context.Context, systemID, uid string) ([]*model.Wish, error) {
	requests, err := q.repo.ListUnrealizedVsRequests(ctx, systemID, uid)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(requests, func(i, j int) bool { return requests[i].CreateTime.Before(requests[j].CreateTime) })

	wishes := make([]*model.Wish, 0, len(requests))
	for _, request := range requests {
		wish, err := q.Wish(ctx, request.ID)
		if err != nil {
			return nil, err
		}
		wishes = append(wishes, wish)
	}
	return wishes, nil
}

func isMultivalued(v interface{}) bool {
	switch v.(type) {
	case []interface{}, []string:
		return true
	default:
		return false
	}
}

func toSlice(v interface{}) []interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case []interface{}:
		return t
	case []string:
		out := make([]interface{}, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []interface{}{v}
	}
}
