package public

import (
	"github.com/referral-next/internal/http/response"

	"github.com/gin-gonic/gin"
)

// GetCaptcha 生成图形验证码
func (h *Handler) GetCaptcha(c *gin.Context) {
	scene := c.Query("scene")
	if !h.CaptchaService.SceneEnabled(scene) {
		response.Success(c, gin.H{"enabled": false})
		return
	}
	challenge, err := h.CaptchaService.GenerateImageChallenge()
	if err != nil {
		respondError(c, response.CodeInternal, "error.internal", err)
		return
	}
	response.Success(c, gin.H{
		"enabled":      true,
		"captcha_id":   challenge.CaptchaID,
		"image_base64": challenge.ImageBase64,
	})
}
