package docs

import _ "embed"

// CampaignOpenAPI is the OpenAPI document of the campaign API.
//
//go:embed campaign-api.openapi.yaml
var CampaignOpenAPI []byte

// CampaignSwaggerHTML renders CampaignOpenAPI with Swagger UI.
//
//go:embed swagger.html
var CampaignSwaggerHTML []byte
