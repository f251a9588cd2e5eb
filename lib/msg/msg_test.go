package msg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tarancss/movo/lib/msg/types"
)

func TestNotification(t *testing.T) {
	n := types.New(types.PayrollApproved, "T1", "0xabc", map[string]string{"txId": "T1"})

	assert.Equal(t, "payroll.approved.T1", n.RoutingKey())
	assert.Len(t, n.ID, 36)
	assert.False(t, n.Time.IsZero())

	other := types.New(types.PayrollApproved, "T1", "0xabc", nil)
	assert.NotEqual(t, n.ID, other.ID)
}

func TestNop(t *testing.T) {
	var mb MsgBroker = Nop{}

	assert.NoError(t, mb.Setup())
	assert.NoError(t, mb.Publish(types.New(types.EscrowLinked, "E1", "", nil)))
	assert.NoError(t, mb.Close())
}
