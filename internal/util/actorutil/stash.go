package actorutil

import (
	"github.com/asynkron/protoactor-go/actor"
)

// Stash keeps messages received in a state that cannot handle them, along with
// their sender, until the actor is ready.
type Stash struct {
	stash []stashElem
}

type stashElem struct {
	msg    any
	sender *actor.PID
}

func (stash *Stash) Stash(ctx actor.Context, msg any) {
	stash.stash = append(stash.stash, stashElem{
		msg:    msg,
		sender: ctx.Sender(),
	})
}

func (stash *Stash) Len() int {
	return len(stash.stash)
}

func (stash *Stash) UnstashAll(ctx actor.Context) {
	for _, elem := range stash.stash {
		ctx.RequestWithCustomSender(ctx.Self(), elem.msg, elem.sender)
	}
	stash.stash = nil
}

func (stash *Stash) UnstashOldest(ctx actor.Context) {
	if len(stash.stash) > 0 {
		first := stash.stash[0]
		ctx.RequestWithCustomSender(ctx.Self(), first.msg, first.sender)
		stash.stash = stash.stash[1:]
	}
}

// Drop discards stashed messages matching fn and returns how many were dropped.
func (stash *Stash) Drop(fn func(msg any) bool) int {
	kept := stash.stash[:0]
	dropped := 0
	for _, elem := range stash.stash {
		if fn(elem.msg) {
			dropped++
			continue
		}
		kept = append(kept, elem)
	}
	stash.stash = kept
	return dropped
}
