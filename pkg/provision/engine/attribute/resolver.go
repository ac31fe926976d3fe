// Package attribute computes the effective attribute mapping for an account:
// the system's default mapping merged with role-supplied overloads, with
// transformations applied through the script host.
package attribute

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"

	model "accord/pkg/provision/core/domain/model"
	"accord/pkg/provision/engine/compare"
	"accord/pkg/provision/script"
	"accord/pkg/provision/support/util/exception"
	"accord/pkg/provision/support/util/logger"
)

const moduleName = "resolver"

// defaultContextPrecedence orders mapping-context sources when the mapping
// does not configure its own; later sources win on key collisions.
var defaultContextPrecedence = []string{"entity", "contract", "context", "role"}

// ResolvedAttribute is the outcome of resolving one mapped attribute. A
// failed non-UID transformation is recorded here as an attribute-local error
// rather than aborting the whole resolution; callers decide skip-vs-abort
// explicitly.
type ResolvedAttribute struct {
	// Attribute is the effective mapping entry after overloads.
	Attribute model.MappedAttribute
	// Value is the resolved IdM-side value, nil when Err is set.
	Value interface{}
	// Err is the attribute-local failure, nil on success.
	Err error
}

// Resolution is the result of resolving a full mapping for one entity.
type Resolution struct {
	// UID is the resolved connector logical key.
	UID string
	// Attributes holds every resolved attribute in mapping order, including
	// failed ones.
	Attributes []ResolvedAttribute
}

// Payload renders the resolution into the connector attribute payload,
// skipping failed attributes and carrying the uid under the "__uid" key.
func (r *Resolution) Payload() model.AttributeMap {
	out := make(model.AttributeMap, len(r.Attributes)+1)
	for _, ra := range r.Attributes {
		if ra.Err != nil {
			continue
		}
		out[ra.Attribute.Descriptor.SchemaName] = ra.Value
	}
	out["__uid"] = r.UID
	return out
}

// Descriptors indexes the effective descriptors by schema name, for freezing
// into the operation alongside the payload.
func (r *Resolution) Descriptors() model.DescriptorMap {
	out := make(model.DescriptorMap, len(r.Attributes))
	for _, ra := range r.Attributes {
		out[ra.Attribute.Descriptor.SchemaName] = ra.Attribute.Descriptor
	}
	return out
}

// Failed aggregates the attribute-local errors of the resolution, nil when
// every attribute resolved.
func (r *Resolution) Failed() error {
	var result *multierror.Error
	for _, ra := range r.Attributes {
		if ra.Err != nil {
			result = multierror.Append(result, fmt.Errorf("attribute %s: %w", ra.Attribute.Descriptor.SchemaName, ra.Err))
		}
	}
	return result.ErrorOrNil()
}

// Resolver merges default and role-overloaded mappings and applies
// transformations. It is pure over its inputs apart from script invocation.
type Resolver struct {
	host       script.Host
	comparator *compare.Comparator
}

// NewResolver creates a Resolver.
func NewResolver(host script.Host, comparator *compare.Comparator) *Resolver {
	return &Resolver{host: host, comparator: comparator}
}

// slot is one effective attribute with its value sources. A SET overload
// replaces the single source; MERGE overloads append additional sources whose
// values are unioned.
type slot struct {
	effective model.MappedAttribute
	sources   []model.MappedAttribute
}

// Resolve computes the effective attribute set for the entity under the
// mapping and overloads. contexts carries the mapping-context payloads keyed
// by source name; their precedence follows the mapping's configured order.
//
// A failed non-UID transformation only fails that attribute. A failed UID
// transformation, or a resolved set without exactly one UID attribute, fails
// the whole resolution.
func (r *Resolver) Resolve(
	ctx context.Context,
	mapping *model.SystemMapping,
	entity *model.Entity,
	overloads []model.RoleOverload,
	contexts map[string]model.AttributeMap,
) (*Resolution, error) {
	slots := buildSlots(mapping, overloads)

	uidCount := 0
	for _, s := range slots {
		if s.effective.IsUID {
			uidCount++
		}
	}
	if uidCount != 1 {
		return nil, exception.NewConfigurationError(moduleName,
			fmt.Sprintf("mapping %s resolves %d UID attributes for entity %s, expected exactly 1", mapping.ID, uidCount, entity.ID))
	}

	scriptCtx := mergeContexts(mapping.ContextPrecedence, contexts)

	resolution := &Resolution{Attributes: make([]ResolvedAttribute, 0, len(slots))}
	for _, s := range slots {
		value, err := r.resolveSlot(ctx, s, entity, scriptCtx)
		if err != nil {
			if s.effective.IsUID {
				return nil, exception.NewScriptError(moduleName,
					fmt.Sprintf("UID attribute %s failed to resolve for entity %s", s.effective.Descriptor.SchemaName, entity.ID), err)
			}
			logger.Warnf("Attribute %s failed to resolve for entity %s, skipping: %v", s.effective.Descriptor.SchemaName, entity.ID, err)
			resolution.Attributes = append(resolution.Attributes, ResolvedAttribute{Attribute: s.effective, Err: err})
			continue
		}
		if s.effective.IsUID {
			uid, ok := value.(string)
			if !ok || uid == "" {
				return nil, exception.NewConfigurationError(moduleName,
					fmt.Sprintf("UID attribute %s resolved to a non-string or empty value for entity %s", s.effective.Descriptor.SchemaName, entity.ID))
			}
			resolution.UID = uid
		}
		resolution.Attributes = append(resolution.Attributes, ResolvedAttribute{Attribute: s.effective, Value: value})
	}

	return resolution, nil
}

// buildSlots merges the default mapping with the overloads. Overloads apply
// in ascending role priority, ties broken by attribute ID, so the merge is
// deterministic.
func buildSlots(mapping *model.SystemMapping, overloads []model.RoleOverload) []slot {
	slots := make([]slot, 0, len(mapping.Attributes))
	index := make(map[string]int, len(mapping.Attributes))
	for _, attr := range mapping.Attributes {
		index[attr.Descriptor.SchemaName] = len(slots)
		slots = append(slots, slot{effective: attr, sources: []model.MappedAttribute{attr}})
	}

	ordered := make([]model.RoleOverload, len(overloads))
	copy(ordered, overloads)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].Attribute.ID < ordered[j].Attribute.ID
	})

	for _, ov := range ordered {
		i, ok := index[ov.Attribute.Descriptor.SchemaName]
		if !ok {
			// An overload targeting no default attribute contributes a new
			// attribute of its own.
			index[ov.Attribute.Descriptor.SchemaName] = len(slots)
			slots = append(slots, slot{effective: ov.Attribute, sources: []model.MappedAttribute{ov.Attribute}})
			continue
		}
		if ov.Attribute.Strategy == model.StrategyMerge {
			slots[i].sources = append(slots[i].sources, ov.Attribute)
			continue
		}
		// SET replaces the default's transformation/value source but keeps
		// the default's descriptor flags authoritative for uid/multivalue.
		replaced := ov.Attribute
		replaced.IsUID = slots[i].effective.IsUID || ov.Attribute.IsUID
		replaced.Descriptor = slots[i].effective.Descriptor
		slots[i].effective = replaced
		slots[i].sources = []model.MappedAttribute{replaced}
	}

	return slots
}

// resolveSlot computes one attribute value: each source's raw value is read,
// transformed, and merge sources are unioned.
func (r *Resolver) resolveSlot(ctx context.Context, s slot, entity *model.Entity, scriptCtx model.AttributeMap) (interface{}, error) {
	values := make([]interface{}, 0, len(s.sources))
	for _, src := range s.sources {
		raw := rawValue(src, entity, scriptCtx)
		if src.Transformation != "" {
			transformed, err := r.host.Transform(ctx, src.Transformation, raw, entity, scriptCtx)
			if err != nil {
				return nil, err
			}
			raw = transformed
		}
		values = append(values, raw)
	}

	if len(values) == 1 {
		return values[0], nil
	}
	return r.union(values, s.effective.Descriptor), nil
}

// union merges several source values of a merge-strategy attribute into one
// deduplicated multi-value, preserving first-seen order.
func (r *Resolver) union(values []interface{}, desc model.AttributeDescriptor) []interface{} {
	seen := make(map[string]bool)
	var out []interface{}
	for _, v := range values {
		for _, elem := range flatten(v) {
			key := r.comparator.Key(elem, desc)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, elem)
		}
	}
	return out
}

func flatten(v interface{}) []interface{} {
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
		return []interface{}{t}
	}
}

// rawValue reads the attribute's untransformed value: entity attributes from
// the entity's properties, others from the merged mapping context.
func rawValue(attr model.MappedAttribute, entity *model.Entity, scriptCtx model.AttributeMap) interface{} {
	if attr.IsEntityAttribute {
		if v, ok := entity.Property(attr.IdmProperty); ok {
			return v
		}
		return nil
	}
	if v, ok := scriptCtx[attr.IdmProperty]; ok {
		return v
	}
	// Fall back to the entity so mappings without injected context still
	// resolve.
	v, _ := entity.Property(attr.IdmProperty)
	return v
}

// mergeContexts folds the context payloads in precedence order; later
// sources overwrite earlier ones.
func mergeContexts(precedence []string, contexts map[string]model.AttributeMap) model.AttributeMap {
	if len(precedence) == 0 {
		precedence = defaultContextPrecedence
	}
	merged := make(model.AttributeMap)
	for _, source := range precedence {
		for k, v := range contexts[source] {
			merged[k] = v
		}
	}
	return merged
}
