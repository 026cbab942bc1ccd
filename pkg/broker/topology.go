// Package broker is the only inter-service transport for order events.
//
// The topology is expressed in queue/exchange terms: durable queues map to
// Kafka topics, and the topic exchange is a routing table resolved on the
// producer side. A message published to an exchange is written once to
// every queue whose binding key matches its routing key.
package broker

import (
	"strings"
)

const (
	QueueNewOrders       = "orders.new"
	QueueConfirmedOrders = "orders.confirmed"
	QueueCanceledOrders  = "orders.canceled"

	ExchangeOrderEvents = "order.events"

	RoutingKeyConfirmed = "order.confirmed"
	RoutingKeyCanceled  = "order.canceled"
)

type Queue struct {
	Name       string
	Partitions int
}

type Binding struct {
	Exchange string
	Key      string
	Queue    string
}

type Topology struct {
	Queues    []Queue
	Exchanges []string
	Bindings  []Binding
}

// DefaultTopology is the fixed shape the storefront services agree on.
func DefaultTopology() Topology {
	return Topology{
		Queues: []Queue{
			{Name: QueueNewOrders, Partitions: 1},
			{Name: QueueConfirmedOrders, Partitions: 1},
			{Name: QueueCanceledOrders, Partitions: 1},
		},
		Exchanges: []string{ExchangeOrderEvents},
		Bindings: []Binding{
			{Exchange: ExchangeOrderEvents, Key: RoutingKeyConfirmed, Queue: QueueConfirmedOrders},
			{Exchange: ExchangeOrderEvents, Key: RoutingKeyCanceled, Queue: QueueCanceledOrders},
		},
	}
}

func (t Topology) HasQueue(name string) bool {
	for _, q := range t.Queues {
		if q.Name == name {
			return true
		}
	}
	return false
}

// Route returns the queues bound to exchange whose binding key matches
// routingKey. Each queue appears at most once.
func (t Topology) Route(exchange, routingKey string) []string {
	var queues []string
	seen := make(map[string]struct{})
	for _, b := range t.Bindings {
		if b.Exchange != exchange || !MatchTopic(b.Key, routingKey) {
			continue
		}
		if _, ok := seen[b.Queue]; ok {
			continue
		}
		seen[b.Queue] = struct{}{}
		queues = append(queues, b.Queue)
	}
	return queues
}

// MatchTopic implements topic-exchange binding semantics: words are separated
// by dots, "*" matches exactly one word and "#" matches zero or more words.
func MatchTopic(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
