package bridge

import (
	"context"
	"fmt"

	"github.com/cosmail/engine/internal/backend"
)

type propertyJSON struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// staticBag wraps properties already fetched in a one-pass item load. Both
// access styles always work.
type staticBag struct {
	props []propertyJSON
}

var _ backend.PropertyBag = (*staticBag)(nil)

func newStaticBag(props []propertyJSON) *staticBag {
	return &staticBag{props: props}
}

func (b *staticBag) Len() (int, error) {
	return len(b.props), nil
}

func (b *staticBag) ForEach(fn func(name, value string) error) error {
	for _, p := range b.props {
		if err := fn(p.Name, p.Value); err != nil {
			return err
		}
	}
	return nil
}

func (b *staticBag) At(i int) (string, string, error) {
	if i < 0 || i >= len(b.props) {
		return "", "", fmt.Errorf("property index %d out of range", i)
	}
	return b.props[i].Name, b.props[i].Value, nil
}

// liveBag reads an item's user properties through the bridge on demand.
// Which access style works depends on the bridge build: newer builds serve
// the whole list in one call, older ones only expose a count plus per-index
// reads. Callers are expected to fall back from one style to the other.
//
// The context is captured at creation because the PropertyBag interface is
// shared with in-memory implementations that have no request scope.
type liveBag struct {
	client *Client
	itemID string
	ctx    context.Context
}

var _ backend.PropertyBag = (*liveBag)(nil)

type propertyCountResponse struct {
	Count int `json:"count"`
}

func (b *liveBag) Len() (int, error) {
	var resp propertyCountResponse
	if err := b.client.get(b.ctx, "/v1/items/"+b.itemID+"/properties/count", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

type propertyListResponse struct {
	Properties []propertyJSON `json:"properties"`
}

func (b *liveBag) ForEach(fn func(name, value string) error) error {
	var resp propertyListResponse
	if err := b.client.get(b.ctx, "/v1/items/"+b.itemID+"/properties", &resp); err != nil {
		return err
	}
	for _, p := range resp.Properties {
		if err := fn(p.Name, p.Value); err != nil {
			return err
		}
	}
	return nil
}

func (b *liveBag) At(i int) (string, string, error) {
	var p propertyJSON
	path := fmt.Sprintf("/v1/items/%s/properties/%d", b.itemID, i)
	if err := b.client.get(b.ctx, path, &p); err != nil {
		return "", "", err
	}
	return p.Name, p.Value, nil
}
