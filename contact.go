package shard

import (
	"github.com/akmonengine/shard/constraint"
	"github.com/akmonengine/shard/gjk"
	"github.com/akmonengine/shard/manifold"
)

// NullIndex marks the end of an intrusive list.
const NullIndex = -1

// ContactFlags tracks the lifecycle of a contact within and across steps.
type ContactFlags uint8

const (
	// ContactOverlap is set while the two fat AABBs overlap in the broad
	// phase: the pair is tracked even when not touching.
	ContactOverlap ContactFlags = 1 << iota
	// ContactTouching is set while the manifold has points.
	ContactTouching
	// ContactEntered marks the step in which touching began.
	ContactEntered
	// ContactExited marks the step in which touching ended.
	ContactExited
)

// ContactEdge connects a contact into one body's doubly linked contact
// list. Keys are (contactIndex << 1) | edgeSide, so a key identifies both
// the contact and which of its two edges it is.
type ContactEdge struct {
	BodyIndex int
	PrevKey   int
	NextKey   int
}

// Contact is the persistent narrow-phase state for one shape pair whose fat
// AABBs overlap. A contact may exist with no manifold points.
type Contact struct {
	Flags ContactFlags
	Edges [2]ContactEdge

	ShapeIndexA int
	ShapeIndexB int

	// Cache warm-starts the GJK query on the next update.
	Cache gjk.Cache

	Manifold manifold.Manifold

	// Mixed surface properties of the two shapes.
	Friction    float64
	Restitution float64
}

// createContact allocates a contact for a new shape pair, mixes surface
// properties, stitches both edges into the actors' contact lists and records
// the pair in the pair set.
func (w *World) createContact(shapeIndexA, shapeIndexB int) {
	contactIndex, contact := w.contacts.Alloc()

	shapeA := w.shapes.MustAt(shapeIndexA)
	shapeB := w.shapes.MustAt(shapeIndexB)

	contact.Flags = ContactOverlap
	contact.ShapeIndexA = shapeIndexA
	contact.ShapeIndexB = shapeIndexB
	contact.Friction = constraint.MixFriction(shapeA.Friction, shapeB.Friction)
	contact.Restitution = constraint.MixRestitution(shapeA.Restitution, shapeB.Restitution)

	bodyA := w.actors.MustAt(shapeA.ActorIndex)
	bodyB := w.actors.MustAt(shapeB.ActorIndex)

	// Connect edge 0 to actor A.
	contact.Edges[0] = ContactEdge{
		BodyIndex: shapeA.ActorIndex,
		PrevKey:   NullIndex,
		NextKey:   bodyA.ContactList,
	}
	keyA := contactIndex<<1 | 0
	if bodyA.ContactList != NullIndex {
		headContact := w.contacts.MustAt(bodyA.ContactList >> 1)
		headContact.Edges[bodyA.ContactList&1].PrevKey = keyA
	}
	bodyA.ContactList = keyA
	bodyA.ContactCount++

	// Connect edge 1 to actor B.
	contact.Edges[1] = ContactEdge{
		BodyIndex: shapeB.ActorIndex,
		PrevKey:   NullIndex,
		NextKey:   bodyB.ContactList,
	}
	keyB := contactIndex<<1 | 1
	if bodyB.ContactList != NullIndex {
		headContact := w.contacts.MustAt(bodyB.ContactList >> 1)
		headContact.Edges[bodyB.ContactList&1].PrevKey = keyB
	}
	bodyB.ContactList = keyB
	bodyB.ContactCount++

	w.pairs.Insert(shapeIndexA, shapeIndexB)
}

// unlinkContactEdge patches the neighbors of one edge out of its body's
// list and fixes the list head when the edge was the head.
func (w *World) unlinkContactEdge(contactIndex, side int) {
	contact := w.contacts.MustAt(contactIndex)
	edge := &contact.Edges[side]
	body := w.actors.MustAt(edge.BodyIndex)

	if edge.PrevKey != NullIndex {
		prevContact := w.contacts.MustAt(edge.PrevKey >> 1)
		prevContact.Edges[edge.PrevKey&1].NextKey = edge.NextKey
	}
	if edge.NextKey != NullIndex {
		nextContact := w.contacts.MustAt(edge.NextKey >> 1)
		nextContact.Edges[edge.NextKey&1].PrevKey = edge.PrevKey
	}

	key := contactIndex<<1 | side
	if body.ContactList == key {
		body.ContactList = edge.NextKey
	}
	body.ContactCount--
}

// destroyContact unlinks both edges, erases the pair and frees the slot.
func (w *World) destroyContact(contactIndex int) {
	contact := w.contacts.MustAt(contactIndex)

	if contact.Flags.isSet(ContactTouching) {
		w.events.emit(Event{
			Type:   CollisionExit,
			ActorA: contact.Edges[0].BodyIndex,
			ActorB: contact.Edges[1].BodyIndex,
			ShapeA: contact.ShapeIndexA,
			ShapeB: contact.ShapeIndexB,
		})
	}

	w.pairs.Erase(contact.ShapeIndexA, contact.ShapeIndexB)
	w.unlinkContactEdge(contactIndex, 0)
	w.unlinkContactEdge(contactIndex, 1)
	w.contacts.Free(contactIndex)
}

// updateContact recomputes the manifold and matches the new points against
// the previous ones by feature id, carrying over accumulated impulses for
// warm starting and flagging persistence.
func (w *World) updateContact(contactIndex int) {
	contact := w.contacts.MustAt(contactIndex)

	shapeA := w.shapes.MustAt(contact.ShapeIndexA)
	shapeB := w.shapes.MustAt(contact.ShapeIndexB)
	bodyA := w.actors.MustAt(shapeA.ActorIndex)
	bodyB := w.actors.MustAt(shapeB.ActorIndex)

	oldManifold := contact.Manifold

	contact.Manifold = manifold.Collide(
		&shapeA.Polygon, &shapeB.Polygon,
		bodyA.Transform(), bodyB.Transform(),
		&contact.Cache,
	)

	for i := 0; i < contact.Manifold.PointCount; i++ {
		mp := &contact.Manifold.Points[i]
		mp.NormalImpulse = 0
		mp.TangentImpulse = 0
		mp.Persisted = false

		for j := 0; j < oldManifold.PointCount; j++ {
			old := &oldManifold.Points[j]
			if old.ID == mp.ID {
				mp.NormalImpulse = old.NormalImpulse
				mp.TangentImpulse = old.TangentImpulse
				mp.Persisted = true
				break
			}
		}
	}

	touching := contact.Manifold.PointCount > 0
	wasTouching := contact.Flags.isSet(ContactTouching)

	contact.Flags.clear(ContactEntered | ContactExited)
	switch {
	case touching && !wasTouching:
		contact.Flags.set(ContactTouching | ContactEntered)
		w.events.emit(Event{
			Type:   CollisionEnter,
			ActorA: contact.Edges[0].BodyIndex,
			ActorB: contact.Edges[1].BodyIndex,
			ShapeA: contact.ShapeIndexA,
			ShapeB: contact.ShapeIndexB,
		})
	case touching:
		w.events.emit(Event{
			Type:   CollisionStay,
			ActorA: contact.Edges[0].BodyIndex,
			ActorB: contact.Edges[1].BodyIndex,
			ShapeA: contact.ShapeIndexA,
			ShapeB: contact.ShapeIndexB,
		})
	case wasTouching:
		contact.Flags.clear(ContactTouching)
		contact.Flags.set(ContactExited)
		w.events.emit(Event{
			Type:   CollisionExit,
			ActorA: contact.Edges[0].BodyIndex,
			ActorB: contact.Edges[1].BodyIndex,
			ShapeA: contact.ShapeIndexA,
			ShapeB: contact.ShapeIndexB,
		})
	}
}

func (f *ContactFlags) set(mask ContactFlags)   { *f |= mask }
func (f *ContactFlags) clear(mask ContactFlags) { *f &^= mask }
func (f ContactFlags) isSet(mask ContactFlags) bool {
	return f&mask == mask
}
