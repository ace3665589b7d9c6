package httpserver

import "github.com/pscheid92/syncpulse/internal/domain"

func domainEvent(id, kind, data string) domain.Event {
	return domain.Event{ID: id, Kind: kind, Data: data}
}
