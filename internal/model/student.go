package model

import "time"

// Student is an exam taker.
type Student struct {
	ID           int       `json:"id"`
	NISN         string    `json:"nisn"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// StudentLoginRequest is the payload for student authentication.
type StudentLoginRequest struct {
	NISN     string `json:"nisn" binding:"required,min=4,max=20"`
	Password string `json:"password" binding:"required,min=4,max=128"`
}

// StudentLoginResponse is returned after successful student login.
type StudentLoginResponse struct {
	Token   string  `json:"token"`
	Student Student `json:"student"`
}

// CreateStudentRequest is the input read by cmd/create-student.
type CreateStudentRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=255"`
	NISN     string `json:"nisn" validate:"required,min=4,max=20"`
	Password string `json:"password" validate:"required,min=6,max=128"`
}
