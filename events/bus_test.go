package events

import (
	"testing"
	"time"

	"github.com/Rocket-Rescue-Node/credential-ledger/models"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestSimpleBusRoutesByKind(t *testing.T) {
	bus := NewSimpleBus()

	var issued, all []models.Event
	unsubscribe := bus.Subscribe(models.CredentialIssued, func(ev models.Event) {
		issued = append(issued, ev)
	})
	bus.SubscribeAll(func(ev models.Event) {
		all = append(all, ev)
	})

	holder := common.HexToAddress("0x03")
	bus.Publish(models.Event{Kind: models.CredentialIssued, Account: holder, Timestamp: time.Unix(1, 0)})
	bus.Publish(models.Event{Kind: models.IssuerGranted, Account: holder, Timestamp: time.Unix(1, 0)})

	require.Len(t, issued, 1)
	assert.Equal(t, models.CredentialIssued, issued[0].Kind)
	assert.Len(t, all, 2)

	unsubscribe()
	bus.Publish(models.Event{Kind: models.CredentialIssued, Account: holder})
	assert.Len(t, issued, 1)
	assert.Len(t, all, 3)
}

func TestLogHandler(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	bus := NewSimpleBus()
	bus.SubscribeAll(LogHandler(zap.New(core)))
	bus.Publish(models.Event{Kind: models.IssuerRevoked, Type: models.Conducted})

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "IssuerRevoked", fields["kind"])
	assert.Equal(t, "Conducted", fields["type"])

	var d Emitter = Discard{}
	d.Publish(models.Event{})
}
