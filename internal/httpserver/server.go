package httpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/opalworks/spaledger/internal/billing"
	"github.com/opalworks/spaledger/pkg/engine"
	"go.uber.org/zap"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	webhookBodyLimit      = 1 << 20
)

// PaymentResolver fetches a settled payment from the billing provider and
// rebuilds the signal from the provider's record, never from client input.
type PaymentResolver interface {
	ResolvePayment(ctx context.Context, referenceID string) (engine.PaymentSignal, error)
}

// Server is the gin façade over the minutes ledger.
type Server struct {
	cfg      Config
	logger   *zap.Logger
	service  *engine.Service
	intake   *billing.Intake
	resolver PaymentResolver
}

// New validates the configuration and assembles the server. intake and resolver
// may be nil; their routes are then not exposed (tests, offline tooling).
func New(cfg Config, logger *zap.Logger, service *engine.Service, intake *billing.Intake, resolver PaymentResolver) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if service == nil {
		return nil, fmt.Errorf("engine service is required")
	}
	return &Server{cfg: cfg, logger: logger, service: service, intake: intake, resolver: resolver}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:    server.cfg.ListenAddr,
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		server.logger.Info("spaledger api listening", zap.String("addr", server.cfg.ListenAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			server.logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Router builds the route table.
func (server *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if server.intake != nil {
		router.POST("/webhooks/billing", server.handleBillingWebhook)
	}

	api := router.Group("/api")
	api.Use(sessionMiddleware([]byte(server.cfg.SessionSigningKey), server.cfg.SessionIssuer, server.cfg.SessionCookieName))

	api.GET("/balance", server.handleBalance)
	api.GET("/invoices", server.handleListInvoices)
	if server.resolver != nil {
		api.POST("/payments/confirm", server.handleConfirmPayment)
	}
	api.POST("/invitations", server.handleIssueInvitation)
	api.GET("/invitations", server.handleListInvitations)
	api.POST("/invitations/:id/cancel", server.handleCancelInvitation)
	api.POST("/subscription/change", server.handleChangePlan)
	api.POST("/subscription/cancel", server.handleCancelSubscription)
	api.GET("/partner/stats", server.handlePartnerStats)

	admin := api.Group("/admin")
	admin.Use(adminOnly())
	admin.POST("/invitations/:id/redeem", server.handleRedeemInvitation)

	return router
}

func (server *Server) handleBillingWebhook(ctx *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, webhookBodyLimit))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "unreadable body"))
		return
	}
	signal, err := server.intake.ParseEvent(payload, ctx.GetHeader(stripeSignatureHeader))
	if errors.Is(err, billing.ErrEventIgnored) {
		ctx.JSON(http.StatusOK, gin.H{"success": true, "ignored": true})
		return
	}
	if err != nil {
		server.logger.Warn("webhook rejected", zap.Error(err))
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_event", "event rejected"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	// The webhook is the authoritative path: no caller account to check against.
	outcome, err := server.service.ReconcileSignal(requestCtx, engine.AccountID{}, signal)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":         true,
		"applied":         outcome.Applied,
		"balance_minutes": outcome.NewBalance.Int64(),
	})
}

type confirmPaymentRequest struct {
	ReferenceID string `json:"reference_id"`
}

// handleConfirmPayment is the client-side race partner of the webhook. Only the
// reference id is taken from the request; the payment's facts are fetched back
// from the billing provider, so a fabricated body cannot mint minutes. Replays
// land on the Apply dedup and report applied=false.
func (server *Server) handleConfirmPayment(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	var request confirmPaymentRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	referenceID, err := engine.NewReferenceID(request.ReferenceID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "reference_id is required"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	signal, err := server.resolver.ResolvePayment(requestCtx, referenceID.String())
	if err != nil {
		if errors.Is(err, billing.ErrInvalidEvent) || errors.Is(err, billing.ErrEventIgnored) {
			server.logger.Warn("payment confirmation rejected", zap.String("reference_id", referenceID.String()), zap.Error(err))
			ctx.JSON(http.StatusUnprocessableEntity, errorResponse("payment_not_confirmed", "payment is not settled"))
			return
		}
		server.respondError(ctx, err)
		return
	}
	outcome, err := server.service.ReconcileSignal(requestCtx, account.AccountID, signal)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":         true,
		"applied":         outcome.Applied,
		"balance_minutes": outcome.NewBalance.Int64(),
	})
}

func (server *Server) handleBalance(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":         true,
		"balance_minutes": account.MinutesBalance.Int64(),
		"plan_id":         account.CurrentPlanID.String(),
		"subscription":    account.SubscriptionStatus.String(),
	})
}

func (server *Server) handleListInvoices(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	records, err := server.service.ListInvoices(requestCtx, account.AccountID, queryInt64(ctx, "before"), invoicePageLimit)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]invoicePayload, 0, len(records))
	for _, record := range records {
		payload = append(payload, invoicePayloadFrom(record))
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "invoices": payload})
}

type issueInvitationRequest struct {
	ServiceID       string `json:"service_id"`
	DurationMinutes int64  `json:"duration_minutes"`
}

func (server *Server) handleIssueInvitation(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	var request issueInvitationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	serviceID, err := engine.NewServiceID(request.ServiceID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "service_id is required"))
		return
	}
	duration, err := engine.NewDuration(request.DurationMinutes)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "duration_minutes must be positive"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	invitation, err := server.service.IssueInvitation(requestCtx, account.AccountID, serviceID, duration)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "invitation": invitationPayloadFrom(invitation)})
}

func (server *Server) handleListInvitations(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	invitations, err := server.service.ListInvitations(requestCtx, account.AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	payload := make([]invitationPayload, 0, len(invitations))
	for _, invitation := range invitations {
		payload = append(payload, invitationPayloadFrom(invitation))
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "invitations": payload})
}

func (server *Server) handleCancelInvitation(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	invitationID, err := engine.NewInvitationID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "invalid invitation id"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	invitation, err := server.service.GetInvitation(requestCtx, invitationID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	// Hosts can only touch their own invitations; a foreign id reads as absent.
	if invitation.HostAccountID != account.AccountID {
		ctx.JSON(http.StatusNotFound, errorResponse("invitation_not_found", "invitation not found"))
		return
	}
	if err := server.service.CancelInvitation(requestCtx, invitationID); err != nil {
		server.respondError(ctx, err)
		return
	}
	balance, err := server.service.Balance(requestCtx, account.AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "balance_minutes": balance.Int64()})
}

type redeemInvitationRequest struct {
	ServiceID       string `json:"service_id"`
	DurationMinutes int64  `json:"duration_minutes"`
}

func (server *Server) handleRedeemInvitation(ctx *gin.Context) {
	invitationID, err := engine.NewInvitationID(ctx.Param("id"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "invalid invitation id"))
		return
	}
	var request redeemInvitationRequest
	if err := ctx.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	var override engine.RedeemOverride
	if request.ServiceID != "" {
		serviceID, serviceErr := engine.NewServiceID(request.ServiceID)
		if serviceErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "invalid service_id"))
			return
		}
		override.ServiceID = serviceID
	}
	if request.DurationMinutes != 0 {
		duration, durationErr := engine.NewDuration(request.DurationMinutes)
		if durationErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "duration_minutes must be positive"))
			return
		}
		override.Duration = duration
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	visit, err := server.service.RedeemInvitation(requestCtx, invitationID, override)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "visit": visitPayloadFrom(visit)})
}

type changePlanRequest struct {
	PlanID string `json:"plan_id"`
}

func (server *Server) handleChangePlan(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	var request changePlanRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "expected JSON body"))
		return
	}
	planID, err := engine.NewPlanID(request.PlanID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_payload", "plan_id is required"))
		return
	}

	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	outcome, err := server.service.ChangePlan(requestCtx, account.AccountID, planID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":                   true,
		"completed_without_payment": outcome.CompletedWithoutPayment,
		"invoice_id":                outcome.InvoiceID,
		"amount_due_cents":          outcome.AmountDueCents,
		"payment_client_secret":     outcome.PaymentClientSecret,
		"balance_minutes":           outcome.NewBalance.Int64(),
	})
}

func (server *Server) handleCancelSubscription(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	if err := server.service.CancelSubscription(requestCtx, account.AccountID); err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (server *Server) handlePartnerStats(ctx *gin.Context) {
	account, ok := server.resolveAccount(ctx)
	if !ok {
		return
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	stats, err := server.service.PartnerStats(requestCtx, account.AccountID)
	if err != nil {
		server.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "stats": statsPayloadFrom(stats)})
}

func (server *Server) resolveAccount(ctx *gin.Context) (engine.Account, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing session"))
		return engine.Account{}, false
	}
	userID, err := engine.NewUserID(claims.Subject)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid session subject"))
		return engine.Account{}, false
	}
	requestCtx, cancel := context.WithTimeout(ctx.Request.Context(), server.cfg.RequestTimeout)
	defer cancel()
	account, err := server.service.AccountForUser(requestCtx, userID)
	if err != nil {
		server.respondError(ctx, err)
		return engine.Account{}, false
	}
	return account, true
}

func (server *Server) respondError(ctx *gin.Context, err error) {
	status, code := statusForError(err)
	if status == http.StatusInternalServerError {
		server.logger.Error("request failed", zap.Error(err))
		ctx.JSON(status, errorResponse(code, "internal error"))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, engine.ErrQuotaExceeded):
		return http.StatusConflict, "quota_exceeded"
	case errors.Is(err, engine.ErrInvitationNotActive):
		return http.StatusConflict, "invitation_not_active"
	case errors.Is(err, engine.ErrPlanNotEligible):
		return http.StatusUnprocessableEntity, "plan_not_eligible"
	case errors.Is(err, engine.ErrUpstreamInconsistency):
		return http.StatusUnprocessableEntity, "upstream_inconsistency"
	case errors.Is(err, engine.ErrNotAffiliate):
		return http.StatusForbidden, "not_affiliate"
	case errors.Is(err, engine.ErrInvitationNotFound):
		return http.StatusNotFound, "invitation_not_found"
	case errors.Is(err, engine.ErrAccountNotFound):
		return http.StatusNotFound, "account_not_found"
	case errors.Is(err, engine.ErrPlanNotFound):
		return http.StatusNotFound, "plan_not_found"
	case errors.Is(err, engine.ErrServiceNotFound):
		return http.StatusNotFound, "service_not_found"
	case errors.Is(err, engine.ErrInvalidSignal), errors.Is(err, engine.ErrInvalidDuration), errors.Is(err, engine.ErrInvalidMinutes):
		return http.StatusBadRequest, "invalid_request"
	}
	return http.StatusInternalServerError, "internal_error"
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

func queryInt64(ctx *gin.Context, key string) int64 {
	raw := ctx.Query(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

type invoicePayload struct {
	ReferenceID    string `json:"reference_id"`
	Kind           string `json:"kind"`
	Description    string `json:"description"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	MinutesGranted int64  `json:"minutes_granted"`
	Status         string `json:"status"`
	CreatedUnixUTC int64  `json:"created_unix_utc"`
}

func invoicePayloadFrom(record engine.InvoiceRecord) invoicePayload {
	return invoicePayload{
		ReferenceID:    record.ReferenceID.String(),
		Kind:           record.Kind.String(),
		Description:    record.Description,
		AmountCents:    record.AmountCents,
		Currency:       record.Currency,
		MinutesGranted: record.MinutesGranted.Int64(),
		Status:         record.Status,
		CreatedUnixUTC: record.CreatedUnixUTC,
	}
}

type invitationPayload struct {
	InvitationID    string `json:"invitation_id"`
	Status          string `json:"status"`
	ServiceID       string `json:"service_id"`
	ServiceName     string `json:"service_name"`
	ReservedMinutes int64  `json:"reserved_minutes"`
	FinalServiceID  string `json:"final_service_id,omitempty"`
	FinalMinutes    int64  `json:"final_minutes,omitempty"`
	CreatedUnixUTC  int64  `json:"created_unix_utc"`
	UsedUnixUTC     int64  `json:"used_unix_utc,omitempty"`
}

func invitationPayloadFrom(invitation engine.Invitation) invitationPayload {
	payload := invitationPayload{
		InvitationID:    invitation.InvitationID.String(),
		Status:          invitation.Status.String(),
		ServiceID:       invitation.ServiceID.String(),
		ServiceName:     invitation.ServiceName,
		ReservedMinutes: invitation.ReservedDuration.Int64(),
		CreatedUnixUTC:  invitation.CreatedUnixUTC,
		UsedUnixUTC:     invitation.UsedUnixUTC,
	}
	if !invitation.FinalServiceID.IsZero() {
		payload.FinalServiceID = invitation.FinalServiceID.String()
		payload.FinalMinutes = invitation.FinalDuration.Int64()
	}
	return payload
}

type visitPayload struct {
	VisitID         string `json:"visit_id"`
	InvitationID    string `json:"invitation_id"`
	ServiceID       string `json:"service_id"`
	ServiceName     string `json:"service_name"`
	DurationMinutes int64  `json:"duration_minutes"`
	GuestVisit      bool   `json:"guest_visit"`
	PaymentMethod   string `json:"payment_method"`
	OccurredUnixUTC int64  `json:"occurred_unix_utc"`
}

type statsPayload struct {
	ReferralCode       string             `json:"referral_code"`
	ReferredCount      int                `json:"referred_count"`
	ActiveSubscribers  int                `json:"active_subscribers"`
	RewardMinutesTotal int64              `json:"reward_minutes_total"`
	SignupSeries       []signupBucket     `json:"signup_series"`
	Tree               []referralTreeNode `json:"tree"`
}

type signupBucket struct {
	Day     string `json:"day"`
	Signups int    `json:"signups"`
}

type referralTreeNode struct {
	ID       string             `json:"id"`
	Level    int                `json:"level"`
	Children []referralTreeNode `json:"children"`
}

func statsPayloadFrom(stats engine.PartnerStats) statsPayload {
	series := make([]signupBucket, 0, len(stats.SignupSeries))
	for _, bucket := range stats.SignupSeries {
		series = append(series, signupBucket{Day: bucket.Day, Signups: bucket.Signups})
	}
	return statsPayload{
		ReferralCode:       stats.ReferralCode,
		ReferredCount:      stats.ReferredCount,
		ActiveSubscribers:  stats.ActiveSubscribers,
		RewardMinutesTotal: stats.RewardMinutesTotal.Int64(),
		SignupSeries:       series,
		Tree:               treeNodesFrom(stats.Tree),
	}
}

func treeNodesFrom(nodes []engine.ReferralNode) []referralTreeNode {
	converted := make([]referralTreeNode, 0, len(nodes))
	for _, node := range nodes {
		converted = append(converted, referralTreeNode{
			ID:       node.ID,
			Level:    node.Level,
			Children: treeNodesFrom(node.Children),
		})
	}
	return converted
}

func visitPayloadFrom(visit engine.Visit) visitPayload {
	return visitPayload{
		VisitID:         visit.VisitID,
		InvitationID:    visit.InvitationID.String(),
		ServiceID:       visit.ServiceID.String(),
		ServiceName:     visit.ServiceName,
		DurationMinutes: visit.DurationMinutes.Int64(),
		GuestVisit:      visit.GuestVisit,
		PaymentMethod:   visit.PaymentMethod,
		OccurredUnixUTC: visit.OccurredUnixUTC,
	}
}
