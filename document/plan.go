package document

// Plan document types and child fields.
const (
	TypePlan            = "plan"
	TypePlanService     = "planservice"
	TypeService         = "service"
	TypeMemberCostShare = "membercostshare"

	FieldPlanCostShares        = "planCostShares"
	FieldLinkedPlanServices    = "linkedPlanServices"
	FieldLinkedService         = "linkedService"
	FieldPlanServiceCostShares = "planserviceCostShares"
)

// PlanSchema returns the schema of an insurance plan: a plan with its cost shares
// and a list of linked plan services, each carrying a service and its own cost shares.
func PlanSchema() *Schema {
	return NewSchema(TypePlan).
		Register(Relationship{ParentType: TypePlan, Field: FieldPlanCostShares, Kind: Single, ChildType: TypeMemberCostShare}).
		Register(Relationship{ParentType: TypePlan, Field: FieldLinkedPlanServices, Kind: Array, ChildType: TypePlanService}).
		Register(Relationship{ParentType: TypePlanService, Field: FieldLinkedService, Kind: Single, ChildType: TypeService}).
		Register(Relationship{ParentType: TypePlanService, Field: FieldPlanServiceCostShares, Kind: Single, ChildType: TypeMemberCostShare})
}
