package session

import (
	"context"
	"strings"

	"github.com/arzzra/jingle/pkg/jingle"
	"github.com/looplab/fsm"
)

/*
Машина состояний 1:1 сессии:

	INACTIVE ──initiate()──> INITIATING ──result──> INITIATED ──accept()──> ACCEPTING ──result──> ACCEPTED
	INACTIVE ──session-initiate (входящий)──> INITIATED
	INITIATED ──session-accept (входящий)──> ACCEPTED

Из любого состояния кроме INACTIVE и TERMINATED:

	──terminate()──> TERMINATING ──result/error/timeout──> TERMINATED
	──session-terminate (входящий), abort(), ошибка──> TERMINATED
*/
var singleTransitions = map[jingle.Status][]jingle.Status{
	jingle.StatusInactive:    {jingle.StatusInitiating, jingle.StatusInitiated},
	jingle.StatusInitiating:  {jingle.StatusInitiated, jingle.StatusTerminating, jingle.StatusTerminated},
	jingle.StatusInitiated:   {jingle.StatusAccepting, jingle.StatusAccepted, jingle.StatusTerminating, jingle.StatusTerminated},
	jingle.StatusAccepting:   {jingle.StatusAccepted, jingle.StatusTerminating, jingle.StatusTerminated},
	jingle.StatusAccepted:    {jingle.StatusTerminating, jingle.StatusTerminated},
	jingle.StatusTerminating: {jingle.StatusTerminated},
}

/*
Машина состояний комнаты Muji:

	INACTIVE ──join()──> PREPARING ──отраженное присутствие──> PREPARED
	PREPARED ──публикация контентов──> INITIATING ──отраженное присутствие──> INITIATED

Из PREPARING, PREPARED, INITIATING, INITIATED:

	──leave()──> LEAVING ──> LEFT
	──ошибка входа, таймаут──> LEFT
*/
var roomTransitions = map[jingle.RoomStatus][]jingle.RoomStatus{
	jingle.RoomInactive:   {jingle.RoomPreparing},
	jingle.RoomPreparing:  {jingle.RoomPrepared, jingle.RoomLeaving, jingle.RoomLeft},
	jingle.RoomPrepared:   {jingle.RoomInitiating, jingle.RoomLeaving, jingle.RoomLeft},
	jingle.RoomInitiating: {jingle.RoomInitiated, jingle.RoomLeaving, jingle.RoomLeft},
	jingle.RoomInitiated:  {jingle.RoomLeaving, jingle.RoomLeft},
	jingle.RoomLeaving:    {jingle.RoomLeft},
}

func formEventName[S ~string](src, dst S) string {
	builder := strings.Builder{}
	builder.WriteString(string(src))
	builder.WriteString("_to_")
	builder.WriteString(string(dst))
	return builder.String()
}

// newMachine строит FSM по таблице переходов. Порядок событий определяется
// порядком состояний в order.
func newMachine[S ~string](initial S, order []S, table map[S][]S, after fsm.Callback) *fsm.FSM {
	events := fsm.Events{}
	for _, src := range order {
		for _, dst := range table[src] {
			events = append(events, fsm.EventDesc{
				Name: formEventName(src, dst),
				Src:  []string{string(src)},
				Dst:  string(dst),
			})
		}
	}
	return fsm.NewFSM(string(initial), events, fsm.Callbacks{
		"after_event": after,
	})
}

func singleMachine(after fsm.Callback) *fsm.FSM {
	return newMachine(jingle.StatusInactive, []jingle.Status{
		jingle.StatusInactive,
		jingle.StatusInitiating,
		jingle.StatusInitiated,
		jingle.StatusAccepting,
		jingle.StatusAccepted,
		jingle.StatusTerminating,
	}, singleTransitions, after)
}

func roomMachine(after fsm.Callback) *fsm.FSM {
	return newMachine(jingle.RoomInactive, []jingle.RoomStatus{
		jingle.RoomInactive,
		jingle.RoomPreparing,
		jingle.RoomPrepared,
		jingle.RoomInitiating,
		jingle.RoomInitiated,
		jingle.RoomLeaving,
	}, roomTransitions, after)
}

// transit выполняет переход FSM из текущего состояния в dst
func transit[S ~string](ctx context.Context, m *fsm.FSM, dst S) error {
	return m.Event(ctx, formEventName(S(m.Current()), dst))
}
