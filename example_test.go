package bpmn_test

import (
	"context"
	"fmt"
	"log"

	"github.com/aretw0/bpmn"
	"github.com/aretw0/bpmn/pkg/domain"
	"github.com/aretw0/bpmn/pkg/dsl"
)

// ExampleNew runs an approval through a user task and an exclusive gateway.
func ExampleNew() {
	ctx := context.Background()
	eng := bpmn.New()

	b := dsl.New("approval")
	b.Add("start").Start().Go("review")
	b.Add("review").UserTask().Assign("manager").Go("decide")
	b.Add("decide").Exclusive().
		Branch("approved == true", "accepted").
		Otherwise("rejected")
	b.Add("accepted").End()
	b.Add("rejected").End()
	def, err := b.Build()
	if err != nil {
		log.Fatal(err)
	}
	if _, err := eng.Deploy(ctx, def); err != nil {
		log.Fatal(err)
	}

	inst, err := eng.StartInstance(ctx, bpmn.StartRequest{DefinitionKey: "approval"})
	if err != nil {
		log.Fatal(err)
	}
	tasks, err := eng.Tasks(ctx, domain.TaskQuery{ProcessID: inst.ID})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Task: %s for %s\n", tasks[0].Name, tasks[0].Assignee)

	if err := eng.CompleteTask(ctx, tasks[0].ID, map[string]any{"approved": true}); err != nil {
		log.Fatal(err)
	}
	visits, err := eng.History(ctx, inst.ID)
	if err != nil {
		log.Fatal(err)
	}
	for _, v := range visits {
		fmt.Println("Visited:", v.Activity)
	}
	// Output:
	// Task: review for manager
	// Visited: start
	// Visited: review
	// Visited: decide
	// Visited: accepted
}
