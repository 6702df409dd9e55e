// Command fallingbox drops a dynamic unit square onto a static ground slab
// and prints the square's state while it settles.
package main

import (
	"fmt"
	"log"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/akmonengine/shard"
	"github.com/akmonengine/shard/actor"
)

func main() {
	world := shard.NewWorld(shard.DefaultConfig())

	groundCfg := actor.DefaultConfig()
	groundCfg.Kind = actor.KindStatic
	ground, err := world.CreateActor(groundCfg)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := world.CreateShape(ground, actor.DefaultShapeConfig(), actor.MakeBox(10, 0.25)); err != nil {
		log.Fatal(err)
	}

	boxCfg := actor.DefaultConfig()
	boxCfg.Position = mgl64.Vec2{0, 1.0}
	box, err := world.CreateActor(boxCfg)
	if err != nil {
		log.Fatal(err)
	}
	shapeCfg := actor.DefaultShapeConfig()
	shapeCfg.Friction = 0.2
	if _, err := world.CreateShape(box, shapeCfg, actor.MakeSquare(0.5)); err != nil {
		log.Fatal(err)
	}

	world.Events().Subscribe(shard.CollisionEnter, func(e shard.Event) {
		fmt.Printf("contact: actor %d touched actor %d\n", e.ActorA, e.ActorB)
	})

	const dt = 1.0 / 60.0
	for i := 0; i < 120; i++ {
		world.Step(dt, 8, 3, true)

		if i%20 == 19 {
			a, err := world.ActorAt(box)
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("t=%.2fs y=%.4f vy=%.4f\n",
				float64(i+1)*dt, a.Position.Y(), a.LinearVelocity.Y())
		}
	}
}
