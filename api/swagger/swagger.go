package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Journal Insights API",
        "description": "Journaling analytics snapshots and student risk flags",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Analysis", "description": "Analysis runs and analytics snapshots"},
        {"name": "Flags", "description": "Flagged students and resource delivery"},
        {"name": "Observability", "description": "Process metrics"}
    ],
    "paths": {
        "/analysis/runs": {
            "post": {
                "tags": ["Analysis"],
                "summary": "Trigger an analysis run",
                "parameters": [
                    {"name": "mode", "in": "query", "type": "string", "enum": ["full", "incremental"]},
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/RunAnalysisRequest"}}
                ],
                "responses": {
                    "200": {"description": "Run finished", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "202": {"description": "Run finished with skipped students", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Another run is in progress", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "Run failed; summary in data", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analysis/snapshots/latest": {
            "get": {
                "tags": ["Analysis"],
                "summary": "Latest analytics snapshot",
                "parameters": [
                    {"name": "districtId", "in": "query", "type": "string"},
                    {"name": "schoolId", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "studentId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No snapshot yet", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/analysis/snapshots": {
            "get": {
                "tags": ["Analysis"],
                "summary": "Historical analytics snapshots",
                "parameters": [
                    {"name": "since", "in": "query", "type": "string", "format": "date-time"},
                    {"name": "days", "in": "query", "type": "integer"},
                    {"name": "districtId", "in": "query", "type": "string"},
                    {"name": "schoolId", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "studentId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/flags": {
            "get": {
                "tags": ["Flags"],
                "summary": "List flagged students",
                "parameters": [
                    {"name": "issueType", "in": "query", "type": "string", "enum": ["depression", "bullying", "introversion", "language_difficulty"]},
                    {"name": "resourcesDelivered", "in": "query", "type": "boolean"},
                    {"name": "districtId", "in": "query", "type": "string"},
                    {"name": "schoolId", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "studentId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Flags"],
                "summary": "Remove every flag",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/flags/export": {
            "get": {
                "tags": ["Flags"],
                "summary": "Export flagged students",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Attachment", "schema": {"type": "file"}}
                }
            }
        },
        "/flags/{studentId}/{issueType}/resources": {
            "post": {
                "tags": ["Flags"],
                "summary": "Record resources delivered for a flag",
                "parameters": [
                    {"name": "studentId", "in": "path", "required": true, "type": "string"},
                    {"name": "issueType", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DeliverResourcesRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Flag not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Process metrics summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "RunAnalysisRequest": {
            "type": "object",
            "properties": {
                "mode": {"type": "string", "enum": ["full", "incremental"]}
            }
        },
        "DeliverResourcesRequest": {
            "type": "object",
            "required": ["count"],
            "properties": {
                "count": {"type": "integer", "minimum": 1}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
