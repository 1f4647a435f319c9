package graph

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cosmail/engine/internal/backend"
	"github.com/cosmail/engine/internal/codec"
)

// publicStringsGUID is the well-known property set for named string
// properties on mailbox items.
const publicStringsGUID = "{00020329-0000-0000-C000-000000000046}"

// propertyDef maps one namespaced codec property to its typed extended
// property id on the cloud protocol.
type propertyDef struct {
	codecName string
	valueType string
	wireName  string
}

var propertyDefs = []propertyDef{
	{codec.PropPriority, "String", "COSPriority"},
	{codec.PropTone, "String", "COSTone"},
	{codec.PropUrgency, "String", "COSUrgency"},
	{codec.PropSummary, "String", "COSSummary"},
	{codec.PropConfidence, "Double", "COSConfidence"},
	{codec.PropSuggestedActions, "String", "COSSuggestedActions"},
	{codec.PropProjectID, "String", "COSProjectId"},
	{codec.PropTaskIDs, "String", "COSTaskIds"},
	{codec.PropProvenance, "String", "COSProvenance"},
	{codec.PropProcessedAt, "SystemTime", "COSProcessedAt"},
}

func (d propertyDef) id() string {
	return fmt.Sprintf("%s %s Name %s", d.valueType, publicStringsGUID, d.wireName)
}

// expandExtendedProperties builds the $expand clause selecting every
// annotation property in one request.
func expandExtendedProperties() string {
	clauses := make([]string, 0, len(propertyDefs))
	for _, d := range propertyDefs {
		clauses = append(clauses, fmt.Sprintf("id eq '%s'", d.id()))
	}
	filter := strings.Join(clauses, " or ")
	return "singleValueExtendedProperties($filter=" + url.QueryEscape(filter) + ")"
}

type extendedProperty struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type extendedPropertyPatch struct {
	SingleValueExtendedProperties []extendedProperty `json:"singleValueExtendedProperties"`
}

// patchFromProperties converts codec-named properties into a typed
// extended-property PATCH body. Names outside the known set are skipped; the
// codec owns the schema, and writing an undeclared property would create an
// orphaned id.
func patchFromProperties(props map[string]string) extendedPropertyPatch {
	var patch extendedPropertyPatch
	for _, d := range propertyDefs {
		value, ok := props[d.codecName]
		if !ok {
			continue
		}
		patch.SingleValueExtendedProperties = append(patch.SingleValueExtendedProperties, extendedProperty{
			ID:    d.id(),
			Value: value,
		})
	}
	return patch
}

// propsBag exposes expanded extended properties as a property bag. Both
// access styles work on this backend; the dual-mode contract exists for the
// bridge's sake.
type propsBag struct {
	names  []string
	values []string
}

var _ backend.PropertyBag = (*propsBag)(nil)

// bagFromExtendedProperties maps wire property ids back to codec names.
// Properties with unrecognized ids are dropped.
func bagFromExtendedProperties(props []extendedProperty) *propsBag {
	byID := make(map[string]propertyDef, len(propertyDefs))
	for _, d := range propertyDefs {
		byID[d.id()] = d
	}

	bag := &propsBag{}
	for _, p := range props {
		d, ok := byID[p.ID]
		if !ok {
			continue
		}
		bag.names = append(bag.names, d.codecName)
		bag.values = append(bag.values, p.Value)
	}
	return bag
}

func (b *propsBag) Len() (int, error) {
	return len(b.names), nil
}

func (b *propsBag) ForEach(fn func(name, value string) error) error {
	for i := range b.names {
		if err := fn(b.names[i], b.values[i]); err != nil {
			return err
		}
	}
	return nil
}

func (b *propsBag) At(i int) (string, string, error) {
	if i < 0 || i >= len(b.names) {
		return "", "", fmt.Errorf("property index %d out of range", i)
	}
	return b.names[i], b.values[i], nil
}
