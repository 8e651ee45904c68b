package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/limpio/internal/models"
	"github.com/example/limpio/internal/services"
	"github.com/example/limpio/internal/utils"
)

// AdminHandler manages admin-only endpoints.
type AdminHandler struct {
	db       *gorm.DB
	sessions *services.SessionService
	log      *zap.Logger
}

// NewAdminHandler constructs AdminHandler.
func NewAdminHandler(db *gorm.DB, sessions *services.SessionService, log *zap.Logger) *AdminHandler {
	return &AdminHandler{db: db, sessions: sessions, log: log}
}

// DashboardStats returns aggregate statistics for the admin dashboard.
func (h *AdminHandler) DashboardStats(c *fiber.Ctx) error {
	var totalUsers int64
	if err := h.db.Model(&models.User{}).Where("role = ?", models.RoleCustomer).Count(&totalUsers).Error; err != nil {
		return err
	}

	var totalReservations int64
	if err := h.db.Model(&models.Reservation{}).Count(&totalReservations).Error; err != nil {
		return err
	}

	// Reservations by status
	type statusCount struct {
		Status string `json:"status"`
		Count  int64  `json:"count"`
	}
	var statusCounts []statusCount
	if err := h.db.Model(&models.Reservation{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&statusCounts).Error; err != nil {
		return err
	}

	byStatus := map[string]int64{
		string(models.StatusPending):    0,
		string(models.StatusInProgress): 0,
		string(models.StatusCompleted):  0,
		string(models.StatusCancelled):  0,
	}
	for _, sc := range statusCounts {
		byStatus[sc.Status] = sc.Count
	}

	var revenue float64
	if err := h.db.Model(&models.Reservation{}).
		Where("status = ?", models.StatusCompleted).
		Select("COALESCE(SUM(final_price), 0)").
		Scan(&revenue).Error; err != nil {
		return err
	}

	y, m, d := time.Now().Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
	var today int64
	if err := h.db.Model(&models.Reservation{}).
		Where("scheduled_at >= ? AND scheduled_at < ?", start, start.Add(24*time.Hour)).
		Count(&today).Error; err != nil {
		return err
	}

	var activeServices, activeAllies int64
	if err := h.db.Model(&models.Service{}).Where("is_active = ?", true).Count(&activeServices).Error; err != nil {
		return err
	}
	if err := h.db.Model(&models.Ally{}).Where("is_active = ?", true).Count(&activeAllies).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data": fiber.Map{
			"total_customers":        totalUsers,
			"total_reservations":     totalReservations,
			"reservations_by_status": byStatus,
			"completed_revenue":      revenue,
			"today_reservations":     today,
			"active_services":        activeServices,
			"active_allies":          activeAllies,
		},
	})
}

// ListAllUsers returns all registered users with pagination and search.
func (h *AdminHandler) ListAllUsers(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.User{})

	if search := strings.ToLower(c.Query("search")); search != "" {
		like := "%" + search + "%"
		query = query.Where(
			"LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ? OR phone LIKE ?",
			like, like, like,
		)
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var users []models.User
	if err := query.Order("created_at desc").
		Limit(pg.Limit).Offset(pg.Offset).
		Find(&users).Error; err != nil {
		return err
	}

	// Enrich users with reservation counts and total spent
	type userStats struct {
		UserID           uuid.UUID
		ReservationCount int64
		TotalSpent       float64
	}

	ids := make([]uuid.UUID, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	var stats []userStats
	if len(ids) > 0 {
		if err := h.db.Model(&models.Reservation{}).
			Select("user_id, count(*) as reservation_count, COALESCE(SUM(CASE WHEN status = ? THEN final_price ELSE 0 END), 0) as total_spent", models.StatusCompleted).
			Where("user_id IN ?", ids).
			Group("user_id").
			Scan(&stats).Error; err != nil {
			return err
		}
	}

	statsMap := make(map[uuid.UUID]userStats, len(stats))
	for _, s := range stats {
		statsMap[s.UserID] = s
	}

	result := make([]fiber.Map, len(users))
	for i, u := range users {
		row := userResponse(u)
		row["is_active"] = u.IsActive
		row["reservation_count"] = statsMap[u.ID].ReservationCount
		row["total_spent"] = statsMap[u.ID].TotalSpent
		result[i] = row
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"data":       result,
		"pagination": pg.Meta(total),
	})
}

type updateUserRequest struct {
	Role     models.Role `json:"role" validate:"omitempty,oneof=admin ally customer"`
	IsActive *bool       `json:"is_active"`
}

// UpdateUser changes the role or active flag of a user. Deactivating a
// user revokes every open session.
func (h *AdminHandler) UpdateUser(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}

	var req updateUserRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if req.Role != "" {
		updates["role"] = req.Role
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if len(updates) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "no fields to update")
	}

	res := h.db.Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fiber.NewError(fiber.StatusNotFound, "user not found")
	}

	// Role lives in the token claims, so existing sessions must log in again.
	if req.Role != "" || (req.IsActive != nil && !*req.IsActive) {
		if err := h.sessions.RevokeAllForUser(c.UserContext(), id); err != nil {
			return err
		}
	}

	var user models.User
	if err := h.db.First(&user, "id = ?", id).Error; err != nil {
		return err
	}

	h.log.Info("user updated by admin",
		zap.String("user_id", id.String()),
		zap.String("role", string(user.Role)),
		zap.Bool("is_active", user.IsActive),
	)
	return c.JSON(fiber.Map{"success": true, "data": userResponse(user)})
}

// RecentReservations returns the most recent 5 reservations for the dashboard.
func (h *AdminHandler) RecentReservations(c *fiber.Ctx) error {
	var items []models.Reservation
	if err := h.db.Preload("User").Preload("Service").
		Order("created_at desc").
		Limit(5).
		Find(&items).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    items,
	})
}
