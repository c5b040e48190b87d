/*
Package embedding 提供文本向量化能力。

  - [OpenAIEmbedder]：调用 OpenAI 兼容的 embeddings 接口，按 100 条分批
  - [HashEmbedder]：基于特征哈希的确定性实现，离线运行与测试使用
*/
package embedding
