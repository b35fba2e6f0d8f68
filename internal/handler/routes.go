package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes mounts the registration API on group.
func RegisterRoutes(group *gin.RouterGroup, enrollments *EnrollmentHandler, sessions *SessionHandler) {
	group.GET("/enrollments", enrollments.List)
	group.POST("/enrollments", enrollments.Create)
	group.GET("/enrollments/eligibility/:studentId/:courseId", enrollments.Eligibility)
	group.GET("/enrollments/:id", enrollments.Get)
	group.POST("/enrollments/:id/cancel", enrollments.Cancel)
	group.POST("/registrations", enrollments.Create)

	group.POST("/sessions", sessions.Create)
	group.GET("/sessions/:id", sessions.Get)
	group.GET("/sessions/:id/capacity", sessions.Capacity)
	group.GET("/sessions/:id/instructors", sessions.Instructors)
	group.PUT("/sessions/:id/instructors", sessions.AssignInstructors)
	group.POST("/sessions/:id/reconcile", sessions.Reconcile)
	group.GET("/sessions/:id/roster", sessions.Roster)
	group.GET("/courses/:courseId/sessions", sessions.ListByCourse)
}
