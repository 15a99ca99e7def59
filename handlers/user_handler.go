package handlers

import (
	"errors"
	"net/http"

	"github.com/Dosada05/darts-duel/middleware"
	"github.com/Dosada05/darts-duel/services"
)

// maxAvatarBytes ограничивает размер загружаемого аватара (5MB).
const maxAvatarBytes = 5 << 20

type UserHandler struct {
	userService services.UserService
}

func NewUserHandler(userService services.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	callerID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	user, err := h.userService.GetByID(r.Context(), callerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, user, "")
}

func (h *UserHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	callerID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes)
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		badRequestResponse(w, r, errors.New("avatar upload must be multipart form data up to 5MB"))
		return
	}

	file, header, err := r.FormFile("avatar")
	if err != nil {
		badRequestResponse(w, r, errors.New("missing 'avatar' form file"))
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType != "image/png" && contentType != "image/jpeg" {
		badRequestResponse(w, r, errors.New("avatar must be a PNG or JPEG image"))
		return
	}

	user, err := h.userService.UpdateAvatar(r.Context(), callerID, contentType, file)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, user, "")
}
