// internal/service/fulfillment/infrastructure/mapper_test.go
package infrastructure

import (
	"testing"
	"time"

	"fulcrum/internal/service/fulfillment/domain"

	"github.com/stretchr/testify/assert"
)

func TestOrderMapping_RefsAndMembers(t *testing.T) {
	now := time.Now()
	order := &domain.Order{
		ID:            "ORD-1",
		Status:        domain.StatusProcessing,
		Quantity:      3,
		Target:        domain.Target{Primary: "player99", Zone: "eu-1"},
		IsFusion:      true,
		MemberIDs:     []int64{11, 12, 13},
		ProviderRefs:  []string{"REF-1", "REF-2", "REF-3"},
		DispatchState: domain.DispatchDone,
		DispatchedAt:  &now,
	}

	model := ToOrderModel(order)
	assert.Equal(t, "REF-1,REF-2,REF-3", model.ReferenceID, "refs joined for persistence")
	assert.Equal(t, "11,12,13", model.MemberIDs)

	back := ToDomainOrder(model)
	assert.Equal(t, order.ProviderRefs, back.ProviderRefs)
	assert.Equal(t, order.MemberIDs, back.MemberIDs)
	assert.Equal(t, order.Target, back.Target)
}

func TestOrderMapping_EmptyRefs(t *testing.T) {
	model := ToOrderModel(&domain.Order{ID: "ORD-2", Status: domain.StatusPending})
	assert.Equal(t, "", model.ReferenceID)

	back := ToDomainOrder(model)
	assert.Nil(t, back.ProviderRefs, "empty reference must not split into a single empty ref")
	assert.Nil(t, back.MemberIDs)
}

func TestParseIDList_SkipsGarbage(t *testing.T) {
	assert.Equal(t, []int64{1, 2}, parseIDList("1, 2"))
	assert.Equal(t, []int64{7}, parseIDList("7,abc"))
	assert.Nil(t, parseIDList(""))
}
