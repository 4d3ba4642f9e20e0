// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"testing"

	"github.com/jacentio/espalier/document"
)

// SamplePlan is a complete plan: one plan cost share and two linked plan services,
// each with a service and its own cost share. Decomposing it yields eight records.
const SamplePlan = `{
  "planCostShares": {
    "deductible": 2000,
    "_org": "example.com",
    "copay": 23,
    "objectId": "1234vxc2324sdf-501",
    "objectType": "membercostshare"
  },
  "linkedPlanServices": [
    {
      "linkedService": {
        "_org": "example.com",
        "objectId": "1234520xvc30asdf-502",
        "objectType": "service",
        "name": "Yearly physical"
      },
      "planserviceCostShares": {
        "deductible": 10,
        "_org": "example.com",
        "copay": 0,
        "objectId": "1234512xvc1314asdf-503",
        "objectType": "membercostshare"
      },
      "_org": "example.com",
      "objectId": "27283xvx9asdff-504",
      "objectType": "planservice"
    },
    {
      "linkedService": {
        "_org": "example.com",
        "objectId": "1234520xvc30sfs-505",
        "objectType": "service",
        "name": "well baby"
      },
      "planserviceCostShares": {
        "deductible": 10,
        "_org": "example.com",
        "copay": 175,
        "objectId": "1234512xvc1314sdfsd-506",
        "objectType": "membercostshare"
      },
      "_org": "example.com",
      "objectId": "27283xvx9sdf-507",
      "objectType": "planservice"
    }
  ],
  "_org": "example.com",
  "objectId": "12xvxc345ssdsds-508",
  "objectType": "plan",
  "planType": "inNetwork",
  "creationDate": "12-12-2017"
}`

// SamplePlanID is the objectId of SamplePlan.
const SamplePlanID = "12xvxc345ssdsds-508"

// SamplePlanKeys lists every composite key SamplePlan decomposes into, root included.
var SamplePlanKeys = []string{
	"id_plan_12xvxc345ssdsds-508",
	"id_membercostshare_1234vxc2324sdf-501",
	"id_planservice_27283xvx9asdff-504",
	"id_service_1234520xvc30asdf-502",
	"id_membercostshare_1234512xvc1314asdf-503",
	"id_planservice_27283xvx9sdf-507",
	"id_service_1234520xvc30sfs-505",
	"id_membercostshare_1234512xvc1314sdfsd-506",
}

// CostSharePlan is a minimal plan with a single cost-share child.
const CostSharePlan = `{"objectId":"p1","objectType":"plan","costShares":{"objectId":"c1","objectType":"costshare","deductible":300,"copay":20}}`

// CostShareSchema declares the costShares field used by CostSharePlan.
func CostShareSchema() *document.Schema {
	return document.NewSchema("plan").Register(document.Relationship{
		ParentType: "plan",
		Field:      "costShares",
		Kind:       document.Single,
		ChildType:  "costshare",
	})
}

// MustParse parses a JSON object or fails the test.
func MustParse(t testing.TB, data string) document.Node {
	t.Helper()
	n, err := document.Parse([]byte(data))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	return n
}
