package metrics

import "testing"

func TestInitIdempotent(t *testing.T) {
	Init("")
	Init("")
}

func TestCounters(t *testing.T) {
	Init("")

	ConnectionOpened()
	ConnectionClosed()
	SubscriptionStarted("ticker")
	SubscriptionStopped("ticker")
	IncrementForwarded("kline")
	IncrementDropped("depth")
	IncrementCommand("subscribe")
	IncrementOrder("MARKET")
}
