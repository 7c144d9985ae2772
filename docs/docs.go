// Package docs holds the OpenAPI description served at /swagger
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/wallets/{account_id}/balance": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Get wallet balance",
                "parameters": [
                    {"type": "string", "description": "Account ID", "name": "account_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.BalanceResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/wallets/{account_id}/top-up": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Charges the named provider. Retrying with the same reference returns the original result.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Top up a wallet",
                "parameters": [
                    {"type": "string", "description": "Account ID", "name": "account_id", "in": "path", "required": true},
                    {"description": "Top-up request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/services.TopUpRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.TopUpResult"}},
                    "202": {"description": "Pending provider confirmation", "schema": {"$ref": "#/definitions/services.TopUpResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "422": {"description": "Unprocessable Entity", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/wallets/{account_id}/spend": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "A spend that cannot be authorized answers 200 with authorized=false and a reason.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Spend from a wallet",
                "parameters": [
                    {"type": "string", "description": "Account ID", "name": "account_id", "in": "path", "required": true},
                    {"description": "Spend request", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/services.SpendRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.SpendResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "409": {"description": "Transaction id already used by a different transaction", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/wallets/{account_id}/offline-batch": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Submit an offline batch",
                "parameters": [
                    {"type": "string", "description": "Account ID", "name": "account_id", "in": "path", "required": true},
                    {"description": "Offline spends", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/services.OfflineBatchRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.OfflineBatchResult"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/wallets/{account_id}/transactions/{transaction_id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "produces": ["application/json"],
                "tags": ["wallets"],
                "summary": "Get transaction status",
                "parameters": [
                    {"type": "string", "description": "Account ID", "name": "account_id", "in": "path", "required": true},
                    {"type": "string", "description": "Transaction ID", "name": "transaction_id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Transaction"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/wallets/{account_id}/held/{transaction_id}/resolve": {
            "post": {
                "security": [{"BearerAuth": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["operators"],
                "summary": "Resolve a held transaction",
                "parameters": [
                    {"type": "string", "description": "Account ID", "name": "account_id", "in": "path", "required": true},
                    {"type": "string", "description": "Transaction ID", "name": "transaction_id", "in": "path", "required": true},
                    {"description": "Decision", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.resolveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/models.Transaction"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/services.ErrorResponse"}},
                    "422": {"description": "Signature no longer matches, settle refused", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        },
        "/providers/{provider}/callbacks": {
            "post": {
                "description": "Body must be signed with the provider's webhook secret in X-Signature (hex HMAC-SHA256).",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["providers"],
                "summary": "Provider confirmation callback",
                "parameters": [
                    {"type": "string", "description": "Provider key", "name": "provider", "in": "path", "required": true},
                    {"description": "Confirmation", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/services.CallbackPayload"}}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/services.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.BalanceResponse": {
            "type": "object",
            "properties": {
                "account_id": {"type": "string"},
                "balance": {"type": "integer"},
                "balance_display": {"type": "string"},
                "currency": {"type": "string"},
                "spent_today": {"type": "integer"},
                "updated_at": {"type": "string"}
            }
        },
        "handlers.resolveRequest": {
            "type": "object",
            "required": ["decision"],
            "properties": {
                "decision": {"type": "string", "enum": ["settle", "reject"]}
            }
        },
        "models.Transaction": {
            "type": "object",
            "properties": {
                "transaction_id": {"type": "string"},
                "account_id": {"type": "string"},
                "kind": {"type": "string"},
                "amount": {"type": "integer"},
                "currency": {"type": "string"},
                "status": {"type": "string"},
                "reason": {"type": "string"},
                "balance_after": {"type": "integer"},
                "offline": {"type": "boolean"},
                "occurred_at": {"type": "string"},
                "settled_at": {"type": "string"}
            }
        },
        "services.CallbackPayload": {
            "type": "object",
            "required": ["status", "transaction_id"],
            "properties": {
                "provider_ref": {"type": "string"},
                "status": {"type": "string", "enum": ["confirmed", "failed"]},
                "transaction_id": {"type": "string"}
            }
        },
        "services.ErrorResponse": {
            "type": "object",
            "properties": {
                "details": {"type": "object", "additionalProperties": {"type": "string"}},
                "error": {"type": "string"},
                "reason": {"type": "string"}
            }
        },
        "services.OfflineBatchRequest": {
            "type": "object",
            "required": ["transactions"],
            "properties": {
                "transactions": {"type": "array", "items": {"$ref": "#/definitions/services.OfflineSpend"}}
            }
        },
        "services.OfflineBatchResult": {
            "type": "object",
            "properties": {
                "account_id": {"type": "string"},
                "offline_exposure": {"type": "integer"},
                "results": {"type": "array", "items": {"$ref": "#/definitions/settlement.Result"}}
            }
        },
        "services.OfflineSpend": {
            "type": "object",
            "required": ["amount", "client_sequence", "occurred_at", "transaction_id"],
            "properties": {
                "amount": {"type": "integer"},
                "client_sequence": {"type": "integer"},
                "device_id": {"type": "string"},
                "merchant_id": {"type": "string"},
                "occurred_at": {"type": "string"},
                "transaction_id": {"type": "string"}
            }
        },
        "services.SpendRequest": {
            "type": "object",
            "required": ["amount"],
            "properties": {
                "amount": {"type": "integer"},
                "category": {"type": "string"},
                "device_id": {"type": "string"},
                "merchant_id": {"type": "string"},
                "merchant_name": {"type": "string"},
                "transaction_id": {"type": "string"}
            }
        },
        "services.SpendResult": {
            "type": "object",
            "properties": {
                "account_id": {"type": "string"},
                "authorized": {"type": "boolean"},
                "new_balance": {"type": "integer"},
                "processed_at": {"type": "string"},
                "reason": {"type": "string"},
                "status": {"type": "string"},
                "transaction_id": {"type": "string"}
            }
        },
        "services.TopUpRequest": {
            "type": "object",
            "required": ["amount", "provider"],
            "properties": {
                "amount": {"type": "integer"},
                "currency": {"type": "string"},
                "provider": {"type": "string", "enum": ["card", "mobile_money", "bank_transfer", "qr_voucher"]},
                "reference": {"type": "string"}
            }
        },
        "services.TopUpResult": {
            "type": "object",
            "properties": {
                "account_id": {"type": "string"},
                "instructions": {"type": "string"},
                "new_balance": {"type": "integer"},
                "processed_at": {"type": "string"},
                "provider": {"type": "string"},
                "status": {"type": "string"},
                "transaction_id": {"type": "string"}
            }
        },
        "settlement.Result": {
            "type": "object",
            "properties": {
                "balance_after": {"type": "integer"},
                "duplicate": {"type": "boolean"},
                "reason": {"type": "string"},
                "status": {"type": "string"},
                "transaction_id": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Tour Wallet API",
	Description:      "Wristband wallet top-ups, spends and offline settlement",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
