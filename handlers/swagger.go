package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the auth service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>yibu-auth — Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document describing the session endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "yibu-auth", "version": "v0.1.0" },
  "paths": {
    "/auth/register": {
      "post": { "summary": "Create an account", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"name":{"type":"string"},"email":{"type":"string"},"password":{"type":"string"},"username":{"type":"string"}}}}}}, "responses": { "201": { "description": "account created" }, "400": { "description": "email or username in use" } } }
    },
    "/auth/login": {
      "post": { "summary": "Verify credentials and issue tokens", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"}}}}}}, "responses": { "200": { "description": "user and access token; refresh token set as httpOnly cookie" }, "401": { "description": "invalid credentials or banned account" } } }
    },
    "/auth/refresh-token": {
      "post": { "summary": "Rotate the token pair", "responses": { "200": { "description": "new access token; rotated refresh cookie" }, "400": { "description": "no record or invalid refresh token" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Revoke all refresh tokens", "responses": { "200": { "description": "logged out" } } }
    },
    "/auth/update-email": {
      "put": { "summary": "Change account email", "responses": { "200": { "description": "updated" }, "400": { "description": "email in use" } } }
    },
    "/auth/update-password": {
      "put": { "summary": "Change account password", "responses": { "200": { "description": "updated" }, "400": { "description": "current password incorrect" } } }
    },
    "/auth/connect-social": {
      "post": { "summary": "Connect a social provider", "responses": { "200": { "description": "connected" }, "400": { "description": "provider already connected" }, "404": { "description": "account not found" } } }
    },
    "/auth/verify-account": {
      "post": { "summary": "Request account verification", "responses": { "200": { "description": "verification requested" }, "400": { "description": "already verified" } } }
    },
    "/auth/delete-account": {
      "delete": { "summary": "Delete the account and its sessions", "responses": { "200": { "description": "deleted" }, "400": { "description": "password incorrect" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
