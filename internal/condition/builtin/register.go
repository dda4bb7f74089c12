package builtin

import "github.com/cdx-io/cdx/internal/condition"

// Owner is the registration owner tag of the built-in handlers.
const Owner = "builtin"

// Register installs every built-in handler pair on the two dispatchers.
func Register(eval *condition.EvaluatorDispatcher, qb *condition.QueryBuilderDispatcher) {
	eval.Register(TypeProperty, Owner, EvalProperty)
	eval.Register(TypeBoolean, Owner, EvalBoolean)
	eval.Register(TypeNot, Owner, EvalNot)
	eval.Register(TypeMatchAll, Owner, EvalMatchAll)
	eval.Register(TypeIDs, Owner, EvalIDs)
	eval.Register(TypePastEvent, Owner, EvalPastEvent)
	eval.Register(TypeEventDate, Owner, EvalEventDate)
	eval.Register(TypeGeoDistance, Owner, EvalGeoDistance)

	qb.Register(TypeProperty, Owner, BuildProperty)
	qb.Register(TypeBoolean, Owner, BuildBoolean)
	qb.Register(TypeNot, Owner, BuildNot)
	qb.Register(TypeMatchAll, Owner, BuildMatchAll)
	qb.Register(TypeIDs, Owner, BuildIDs)
	qb.Register(TypePastEvent, Owner, BuildPastEvent)
	qb.Register(TypeEventDate, Owner, BuildEventDate)
	qb.Register(TypeGeoDistance, Owner, BuildGeoDistance)
}
