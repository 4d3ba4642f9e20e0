package plan

// Plan is the validated shape of a complete plan document.
type Plan struct {
	Org                string        `json:"_org" validate:"required"`
	ObjectID           string        `json:"objectId" validate:"required"`
	ObjectType         string        `json:"objectType" validate:"required,eq=plan"`
	PlanType           string        `json:"planType" validate:"required"`
	CreationDate       string        `json:"creationDate" validate:"required,datetime=01-02-2006"`
	PlanCostShares     *CostShare    `json:"planCostShares" validate:"required"`
	LinkedPlanServices []PlanService `json:"linkedPlanServices" validate:"required,min=1,dive"`
}

// Patch is the validated shape of a partial update. Only linkedPlanServices is
// required; any other plan attribute present is overlaid on the stored plan.
type Patch struct {
	Org                string        `json:"_org"`
	ObjectID           string        `json:"objectId"`
	ObjectType         string        `json:"objectType" validate:"omitempty,eq=plan"`
	PlanType           string        `json:"planType"`
	CreationDate       string        `json:"creationDate" validate:"omitempty,datetime=01-02-2006"`
	PlanCostShares     *CostShare    `json:"planCostShares" validate:"omitempty"`
	LinkedPlanServices []PlanService `json:"linkedPlanServices" validate:"required,min=1,dive"`
}

// CostShare is a membercostshare object.
type CostShare struct {
	Org        string `json:"_org" validate:"required"`
	ObjectID   string `json:"objectId" validate:"required"`
	ObjectType string `json:"objectType" validate:"required,eq=membercostshare"`
	Deductible *int   `json:"deductible" validate:"required,gte=0"`
	Copay      *int   `json:"copay" validate:"required,gte=0"`
}

// PlanService is a planservice object linking a service and its cost shares.
type PlanService struct {
	Org                   string         `json:"_org" validate:"required"`
	ObjectID              string         `json:"objectId" validate:"required"`
	ObjectType            string         `json:"objectType" validate:"required,eq=planservice"`
	LinkedService         *LinkedService `json:"linkedService" validate:"required"`
	PlanServiceCostShares *CostShare     `json:"planserviceCostShares" validate:"required"`
}

// LinkedService is a service object.
type LinkedService struct {
	Org        string `json:"_org" validate:"required"`
	ObjectID   string `json:"objectId" validate:"required"`
	ObjectType string `json:"objectType" validate:"required,eq=service"`
	Name       string `json:"name" validate:"required"`
}
