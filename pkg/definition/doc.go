/*
Package definition loads process definitions from YAML documents.

A document names the process key and lists its nodes. Outgoing sequence flows
are written on the source node, either as a transitions list or, for a single
unconditional flow, as next:

	key: order
	name: Order handling
	nodes:
	  - id: start
	    kind: none_start
	    next: approve
	  - id: approve
	    kind: user_task
	    assignee: manager
	    next: route
	  - id: route
	    kind: exclusive_gateway
	    transitions:
	      - to: ship
	        condition: approved == true
	      - to: reject
	        default: true
	  - id: ship
	    kind: end
	  - id: reject
	    kind: end

The definition id is derived from the document bytes, so loading the same
file twice yields the same id.
*/
package definition
